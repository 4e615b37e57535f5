package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/samplehub/internal/drivers"
	"github.com/FairForge/samplehub/internal/samples"
)

// maxUploadMemory is the multipart size kept in memory before spilling to disk
const maxUploadMemory = 32 << 20

type idResponse struct {
	ID int64 `json:"id"`
}

type imagesResponse struct {
	Images interface{} `json:"images"`
}

type createDatasetRequest struct {
	Info map[string]interface{} `json:"info"`
}

type deleteSampleRequest struct {
	Purge bool `json:"purge"`
}

// decodeBody decodes an optional JSON body into v.
func decodeBody(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return samples.ErrValidation.New("invalid request body: %v", err)
}

func queryInt(r *http.Request, name string) (*int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, samples.ErrValidation.New("%s must be a non-negative integer", name)
	}
	return &n, nil
}

func paging(r *http.Request) (limit *int, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return nil, 0, err
	}
	off, err := queryInt(r, "offset")
	if err != nil {
		return nil, 0, err
	}
	if off != nil {
		offset = *off
	}
	return limit, offset, nil
}

func filterFrom(r *http.Request) (samples.Filter, error) {
	limit, offset, err := paging(r)
	if err != nil {
		return samples.Filter{}, err
	}
	q := r.URL.Query()
	return samples.Filter{
		Prefix: q.Get("prefix"),
		Label:  q.Get("label"),
		Split:  q.Get("split"),
		Limit:  limit,
		Offset: offset,
	}, nil
}

func (s *Server) handleListDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListDatasets(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id, err := s.service.CreateDataset(r.Context(), mux.Vars(r)["dataset"], req.Info)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleDeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, err := s.service.DeleteDataset(r.Context(), mux.Vars(r)["dataset"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.service.ListSamples(r.Context(), mux.Vars(r)["dataset"], f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCountSamples(w http.ResponseWriter, r *http.Request) {
	n, err := s.service.CountSamples(r.Context(), mux.Vars(r)["dataset"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (s *Server) handleGalleryImages(w http.ResponseWriter, r *http.Request) {
	f, err := filterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	images, err := s.service.GalleryImages(r.Context(), mux.Vars(r)["dataset"], f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imagesResponse{Images: images})
}

func (s *Server) handleRegisterSample(w http.ResponseWriter, r *http.Request) {
	var req samples.RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	id, err := s.service.RegisterSample(r.Context(), vars["dataset"], vars["sample"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	var req deleteSampleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	id, err := s.service.DeleteSample(r.Context(), vars["dataset"], vars["sample"], req.Purge)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idResponse{ID: id})
}

func (s *Server) handleSampleImages(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	vars := mux.Vars(r)
	images, err := s.service.SampleImages(r.Context(), vars["dataset"], vars["sample"], limit, offset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, imagesResponse{Images: images})
}

func locatorParam(r *http.Request) (string, error) {
	locator := r.URL.Query().Get("url")
	if locator == "" {
		return "", samples.ErrValidation.New("url query parameter is required")
	}
	return locator, nil
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	locator, err := locatorParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.writeError(w, r, samples.ErrValidation.New("invalid multipart body: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, samples.ErrValidation.New("multipart field \"file\" is required"))
		return
	}
	defer func() { _ = file.Close() }()

	if err := s.service.Upload(r.Context(), locator, file); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": locator})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	locator, err := locatorParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	body, err := s.service.Download(r.Context(), locator)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer func() { _ = body.Close() }()

	name := path.Base(locator)
	if loc, err := drivers.ParseLocator(locator); err == nil {
		name = path.Base(loc.Path)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+"\"")
	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn("download interrupted", zap.String("url", locator), zap.Error(err))
	}
}
