package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                                "/",
		"/metrics":                        "/metrics",
		"/v1/access/abc123":               "/v1/access/:token",
		"/v1/access/abc123/download/doc1": "/v1/access/:token/download/:id",
		"/v1/admin/document-requests/req1/approve":  "/v1/admin/document-requests/:id/approve",
		"/v1/admin/document-requests/batch-approve": "/v1/admin/document-requests/batch-approve",
		"/v1/admin/documents/bulk":                  "/v1/admin/documents/bulk",
		"/v1/documents?access=public":               "/v1/documents",
		"/v1/admin/organizations/org1/restore":      "/v1/admin/organizations/:id/restore",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
