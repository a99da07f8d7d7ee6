package httpapi

import (
	"io"
	"mime"
	"net/http"
	"strconv"

	"trustcenter.dev/internal/access"
	"trustcenter.dev/internal/storage"
	"trustcenter.dev/internal/trust"
)

type submitResponse struct {
	Success bool `json:"success"`
	access.SubmitResult
}

type approveRequest struct {
	Notes          string `json:"notes"`
	ExpirationDays *int   `json:"expiration_days"`
}

type denyRequest struct {
	Reason string `json:"reason"`
}

type batchApproveRequest struct {
	RequestIDs     []string `json:"request_ids"`
	Notes          string   `json:"notes"`
	ExpirationDays *int     `json:"expiration_days"`
}

type batchDenyRequest struct {
	RequestIDs []string `json:"request_ids"`
	Reason     string   `json:"reason"`
}

type batchResponse struct {
	Results   []access.BatchOutcome `json:"results"`
	Succeeded int                   `json:"succeeded"`
	Skipped   int                   `json:"skipped"`
	Failed    int                   `json:"failed"`
}

func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	var in access.SubmitInput
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	res, err := a.access.Submit(r.Context(), in)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Success: true, SubmitResult: res})
}

func (a *API) resolveAccess(w http.ResponseWriter, r *http.Request) {
	view, err := a.access.ResolveAccess(r.Context(), r.PathValue("token"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": view})
}

func (a *API) downloadWithToken(w http.ResponseWriter, r *http.Request) {
	dl, err := a.access.DownloadDocument(r.Context(), r.PathValue("token"), r.PathValue("documentID"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	serveDownload(w, r, dl)
}

// serveDownload redirects to a presigned URL or streams the body.
func serveDownload(w http.ResponseWriter, r *http.Request, dl storage.Download) {
	if dl.RedirectURL != "" {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, dl.RedirectURL, http.StatusFound)
		return
	}
	if dl.Body == nil {
		writeError(w, r, http.StatusNotFound, "not found")
		return
	}
	defer dl.Body.Close()
	ct := dl.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "no-store")
	if dl.FileName != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.FileName}))
	}
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, dl.Body)
}

func (a *API) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseBoundedInt(q.Get("limit"), "limit", 50, 1, 200)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	offset, err := parseBoundedInt(q.Get("offset"), "offset", 0, 0, 1_000_000)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	items, err := a.access.List(r.Context(), trust.RequestFilter{
		Status:         trust.RequestStatus(q.Get("status")),
		OrganizationID: q.Get("organization_id"),
		Email:          q.Get("email"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	if items == nil {
		items = []trust.DocumentRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
}

func (a *API) requestDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := a.access.Detail(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) approveRequest(w http.ResponseWriter, r *http.Request) {
	var in approveRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	req, out, err := a.access.Approve(r.Context(), r.PathValue("id"), adminID(r), in.Notes, in.ExpirationDays)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req, "outcome": out})
}

func (a *API) denyRequest(w http.ResponseWriter, r *http.Request) {
	var in denyRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	req, out, err := a.access.Deny(r.Context(), r.PathValue("id"), adminID(r), in.Reason)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": req, "outcome": out})
}

func (a *API) batchApprove(w http.ResponseWriter, r *http.Request) {
	var in batchApproveRequest
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	results, err := a.access.BatchApprove(r.Context(), in.RequestIDs, adminID(r), in.Notes, in.ExpirationDays)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(results))
}

func (a *API) batchDeny(w http.ResponseWriter, r *http.Request) {
	var in batchDenyRequest
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	results, err := a.access.BatchDeny(r.Context(), in.RequestIDs, adminID(r), in.Reason)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(results))
}

func summarize(results []access.BatchOutcome) batchResponse {
	resp := batchResponse{Results: results}
	for _, res := range results {
		switch res.Status {
		case access.BatchApproved, access.BatchDenied:
			resp.Succeeded++
		case access.BatchSkipped:
			resp.Skipped++
		default:
			resp.Failed++
		}
	}
	return resp
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, dst)
}
