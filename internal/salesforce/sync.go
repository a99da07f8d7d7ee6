package salesforce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"trustcenter.dev/internal/config"
	"trustcenter.dev/internal/obs"
	"trustcenter.dev/internal/orgs"
	"trustcenter.dev/internal/trust"
)

const (
	accountQuery = "SELECT Id, Name, Website, Trust_Center_Status__c FROM Account"
	contactQuery = "SELECT Email, AccountId FROM Contact WHERE Email != null AND AccountId != null"
)

// ErrNotConnected is returned when no Salesforce connection is stored.
var ErrNotConnected = fmt.Errorf("%w: salesforce is not connected", trust.ErrNotFound)

// Recorder appends activity entries.
type Recorder interface {
	Record(ctx context.Context, entry trust.ActivityLog)
}

// SyncReport summarises one sync run.
type SyncReport struct {
	Accounts int `json:"accounts"`
	Contacts int `json:"contacts"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

type account struct {
	ID          string `json:"Id"`
	Name        string `json:"Name"`
	Website     string `json:"Website"`
	TrustStatus string `json:"Trust_Center_Status__c"`
}

type contact struct {
	Email     string `json:"Email"`
	AccountID string `json:"AccountId"`
}

// Syncer mirrors Salesforce accounts into organizations.
type Syncer struct {
	store      trust.Store
	cipher     *TokenCipher
	oauth      *oauth2.Config
	recorder   Recorder
	apiVersion string
	now        func() time.Time
}

func NewSyncer(store trust.Store, cfg config.SalesforceConfig, cipher *TokenCipher, recorder Recorder) *Syncer {
	return &Syncer{
		store:      store,
		cipher:     cipher,
		oauth:      oauthConfig(cfg),
		recorder:   recorder,
		apiVersion: cfg.APIVersion,
		now:        time.Now,
	}
}

// Run performs one full sync.
func (s *Syncer) Run(ctx context.Context) (SyncReport, error) {
	report, err := s.run(ctx)
	obs.CountSalesforceSync(err == nil)
	if err != nil {
		obs.Logger().Error("salesforce_sync_failed", zap.Error(err))
		return report, err
	}
	obs.Logger().Info("salesforce_sync_done",
		zap.Int("accounts", report.Accounts),
		zap.Int("contacts", report.Contacts),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (s *Syncer) run(ctx context.Context) (SyncReport, error) {
	conn, err := s.store.Salesforce().Connection(ctx)
	if errors.Is(err, trust.ErrNotFound) {
		return SyncReport{}, ErrNotConnected
	}
	if err != nil {
		return SyncReport{}, err
	}
	client, err := s.client(ctx, &conn)
	if err != nil {
		return SyncReport{}, err
	}

	accounts, err := decodeAll[account](ctx, client, accountQuery)
	if err != nil {
		return SyncReport{}, err
	}
	contacts, err := decodeAll[contact](ctx, client, contactQuery)
	if err != nil {
		return SyncReport{}, err
	}
	report := SyncReport{Accounts: len(accounts), Contacts: len(contacts)}

	contactDomains := map[string][]string{}
	for _, c := range contacts {
		d, err := orgs.ExtractDomain(c.Email)
		if err != nil || orgs.IsPersonalDomain(d) {
			continue
		}
		contactDomains[c.AccountID] = append(contactDomains[c.AccountID], d)
	}

	for _, acct := range accounts {
		domains := trust.MergeIDs(websiteDomains(acct.Website), contactDomains[acct.ID])
		if len(domains) == 0 {
			report.Skipped++
			continue
		}
		for _, domain := range domains {
			created, err := s.upsert(ctx, acct, domain)
			if err != nil {
				return report, fmt.Errorf("upsert %s: %w", domain, err)
			}
			if created {
				report.Created++
			} else {
				report.Updated++
			}
		}
	}

	if err := s.store.Salesforce().MarkSynced(ctx, conn.ID, s.now().UTC()); err != nil {
		return report, err
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, trust.ActivityLog{
			Action:     "salesforce.sync",
			EntityType: "salesforce_connection",
			EntityID:   conn.ID,
			Metadata: map[string]any{
				"accounts": report.Accounts,
				"contacts": report.Contacts,
				"created":  report.Created,
				"updated":  report.Updated,
				"skipped":  report.Skipped,
			},
		})
	}
	return report, nil
}

func (s *Syncer) client(ctx context.Context, conn *trust.SalesforceConnection) (*Client, error) {
	access, err := s.cipher.Decrypt(conn.AccessTokenEnc)
	if err != nil {
		return nil, err
	}
	refresh, err := s.cipher.Decrypt(conn.RefreshTokenEnc)
	if err != nil {
		return nil, err
	}
	if refresh != "" {
		tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{
			AccessToken:  access,
			RefreshToken: refresh,
			Expiry:       time.Unix(1, 0),
		}).Token()
		if err != nil {
			return nil, fmt.Errorf("refresh salesforce token: %w", err)
		}
		if tok.AccessToken != access {
			access = tok.AccessToken
			if inst, _ := tok.Extra("instance_url").(string); inst != "" {
				conn.InstanceURL = inst
			}
			if conn.AccessTokenEnc, err = s.cipher.Encrypt(access); err != nil {
				return nil, err
			}
			if err := s.store.Salesforce().SaveConnection(ctx, conn); err != nil {
				return nil, err
			}
		}
	}
	return NewClient(conn.InstanceURL, access, s.apiVersion), nil
}

func (s *Syncer) upsert(ctx context.Context, acct account, domain string) (bool, error) {
	status, hasStatus := mapStatus(acct.TrustStatus)
	existing, err := s.store.Organizations().FindByDomain(ctx, domain)
	switch {
	case errors.Is(err, trust.ErrNotFound):
		org := trust.Organization{
			Name:                orgs.DisplayName(domain, acct.Name),
			Domain:              domain,
			Status:              status,
			IsActive:            true,
			SalesforceAccountID: acct.ID,
		}
		err := s.store.Organizations().Create(ctx, &org)
		if errors.Is(err, trust.ErrConflict) {
			return s.upsert(ctx, acct, domain)
		}
		return err == nil, err
	case err != nil:
		return false, err
	}
	upd := trust.OrganizationUpdate{SalesforceAccountID: &acct.ID}
	if name := strings.TrimSpace(acct.Name); name != "" {
		upd.Name = &name
	}
	if hasStatus {
		upd.Status = &status
	}
	_, err = s.store.Organizations().Update(ctx, existing.ID, upd)
	return false, err
}

func decodeAll[T any](ctx context.Context, c *Client, soql string) ([]T, error) {
	raw, err := c.Query(ctx, soql)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, fmt.Errorf("decode salesforce record: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// mapStatus converts the custom account field to an organization status.
func mapStatus(v string) (trust.OrgStatus, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(v), " ", "_")) {
	case "whitelisted", "approved":
		return trust.OrgStatusWhitelisted, true
	case "conditional":
		return trust.OrgStatusConditional, true
	case "no_access", "blocked":
		return trust.OrgStatusNoAccess, true
	}
	return trust.OrgStatusUnset, false
}

func websiteDomains(website string) []string {
	website = strings.TrimSpace(website)
	if website == "" {
		return nil
	}
	if !strings.Contains(website, "://") {
		website = "https://" + website
	}
	u, err := url.Parse(website)
	if err != nil || u.Hostname() == "" {
		return nil
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if !strings.Contains(host, ".") || orgs.IsPersonalDomain(host) {
		return nil
	}
	return []string{host}
}
