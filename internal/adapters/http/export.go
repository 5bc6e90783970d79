package httpadapter

import (
	"net/http"
	"strconv"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

type jobHandle struct {
	JobID         string           `json:"job_id"`
	Status        domain.JobStatus `json:"status"`
	EstimatedRows int              `json:"estimated_rows"`
	StatusURL     string           `json:"status_url"`
}

// exportFlags answers 200 with the file, 202 with a job handle, or 413 with
// a narrower filter to retry with.
func (s *Server) exportFlags(w http.ResponseWriter, r *http.Request) {
	req := ports.ExportRequest{Filter: domain.FlagFilter{IncludeSnoozed: true}}
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.RequestedBy = actor(r)
	res, err := s.exporter.Export(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Job != nil {
		w.Header().Set("Location", "/api/v1/exports/"+res.Job.ID)
		s.writeJSON(w, http.StatusAccepted, jobHandle{
			JobID:         res.Job.ID,
			Status:        res.Job.Status,
			EstimatedRows: res.Job.EstimatedRows,
			StatusURL:     "/api/v1/exports/" + res.Job.ID,
		})
		return
	}
	s.writeFile(w, res.File)
}

func (s *Server) writeFile(w http.ResponseWriter, f *ports.ExportFile) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", attachment(f.Filename))
	w.Header().Set("X-Export-Rows", strconv.Itoa(f.Rows))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(f.Data); err != nil {
		s.log.WithError(err).WithField("file", f.Filename).Warn("write export")
	}
}

func (s *Server) getExportJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "jobId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.exporter.GetJob(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "jobId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	f, err := s.exporter.Download(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeFile(w, f)
}
