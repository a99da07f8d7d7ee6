package httpapi

import (
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"trustcenter.dev/internal/documents"
	"trustcenter.dev/internal/trust"
)

const multipartMemory = 8 << 20

type bulkDocumentsRequest struct {
	Documents []documents.Input `json:"documents"`
}

func (a *API) listPublicDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := a.docs.ListPublic(r.Context())
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(docs)})
}

func (a *API) downloadPublic(w http.ResponseWriter, r *http.Request) {
	dl, err := a.docs.PublicDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	serveDownload(w, r, dl)
}

func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	docs, err := a.docs.List(r.Context(), trust.DocumentFilter{
		Status:      trust.DocumentStatus(q.Get("status")),
		AccessLevel: trust.AccessLevel(q.Get("access_level")),
		Category:    q.Get("category"),
		CurrentOnly: q.Get("all_versions") != "true",
	})
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(docs)})
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.docs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// createDocument accepts JSON metadata or a multipart form with a "file" part.
func (a *API) createDocument(w http.ResponseWriter, r *http.Request) {
	in, file, err := readDocumentInput(r)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	if file != nil {
		defer file.Close()
	}
	doc, err := a.docs.Create(r.Context(), in, readerOrNil(file))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/admin/documents/"+doc.ID)
	writeJSON(w, http.StatusCreated, doc)
}

func (a *API) bulkCreateDocuments(w http.ResponseWriter, r *http.Request) {
	var in bulkDocumentsRequest
	if err := decodeJSON(r, &in); err != nil {
		handleTrustError(w, r, err)
		return
	}
	docs, err := a.docs.BulkCreate(r.Context(), in.Documents)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": nonNil(docs)})
}

func (a *API) updateDocument(w http.ResponseWriter, r *http.Request) {
	var p documents.Patch
	if err := decodeJSON(r, &p); err != nil {
		handleTrustError(w, r, err)
		return
	}
	doc, err := a.docs.Update(r.Context(), r.PathValue("id"), p)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) archiveDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := a.docs.Archive(r.Context(), r.PathValue("id"))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) replaceDocument(w http.ResponseWriter, r *http.Request) {
	in, file, err := readDocumentInput(r)
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	if file != nil {
		defer file.Close()
	}
	doc, err := a.docs.Replace(r.Context(), r.PathValue("id"), in, readerOrNil(file))
	if err != nil {
		handleTrustError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func readDocumentInput(r *http.Request) (documents.Input, multipart.File, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		var in documents.Input
		err := decodeJSON(r, &in)
		return in, nil, err
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return documents.Input{}, nil, badRequest("invalid multipart form: " + err.Error())
	}
	in := documents.Input{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Category:    r.FormValue("category"),
		AccessLevel: trust.AccessLevel(r.FormValue("access_level")),
		Status:      trust.DocumentStatus(r.FormValue("status")),
	}
	file, header, err := r.FormFile("file")
	switch {
	case err == http.ErrMissingFile:
		return in, nil, nil
	case err != nil:
		return documents.Input{}, nil, badRequest("invalid file part: " + err.Error())
	}
	in.FileName = header.Filename
	in.ContentType = header.Header.Get("Content-Type")
	in.Size = header.Size
	return in, file, nil
}

// readerOrNil avoids handing a typed nil multipart.File to the catalog.
func readerOrNil(f multipart.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
