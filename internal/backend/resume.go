package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/digkill/flashgen/internal/models"
)

type jobCreatedResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (r *jobCreatedResponse) validate() error {
	if r.JobID == "" {
		return errors.New("job_id is empty")
	}
	return nil
}

type jobResponse struct {
	ID             string           `json:"id"`
	Status         models.JobStatus `json:"status"`
	GithubUsername *string          `json:"github_username"`
	HTMLURL        *string          `json:"html_url"`
	PDFURL         *string          `json:"pdf_url"`
	Error          *string          `json:"error"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (r *jobResponse) validate() error {
	if r.ID == "" {
		return errors.New("job id is empty")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("unknown job status %q", r.Status)
	}
	return nil
}

type resultItem struct {
	ResumeCover   string `json:"resume_cover"`
	DownloadLinks struct {
		PDF  *string `json:"pdf"`
		HTML *string `json:"html"`
	} `json:"download_links"`
}

type downloadResponse struct {
	HTMLURL string `json:"html_url"`
	PDFURL  string `json:"pdf_url"`
}

// GenerateResume submits a generation job as a multipart form. The access
// credential is optional; the auxiliary token is not.
func (c *Client) GenerateResume(ctx context.Context, token string, r models.GenerationRequest) (string, error) {
	const op = "backend.generate"

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fields := [][2]string{
		{"github_token", r.AuxiliaryToken},
		{"language", string(r.Options.OutputLanguage)},
		{"platform_content", r.Options.SourceEmphasis.PlatformContent()},
	}
	if r.Options.JobContextURL != "" {
		fields = append(fields, [2]string{"job_url", r.Options.JobContextURL})
	}
	if r.PaymentID != "" {
		fields = append(fields, [2]string{"payment_id", r.PaymentID})
	}
	for _, f := range fields {
		if err := form.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("%s: write field %s: %w", op, f[0], err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("%s: close form: %w", op, err)
	}

	var resp jobCreatedResponse
	req := request{op: op, method: http.MethodPost, path: "/resume/generate", token: token, body: &buf, contentType: form.FormDataContentType()}
	if err := c.do(ctx, req, &resp); err != nil {
		return "", err
	}
	c.log.Info("generation job created", "job_id", resp.JobID, "status", resp.Status)
	return resp.JobID, nil
}

func (c *Client) GetJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	var resp jobResponse
	req := request{op: "backend.get_job", method: http.MethodGet, path: "/resume/" + url.PathEscape(jobID)}
	if err := c.do(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &models.GenerationJob{
		ID:             resp.ID,
		Status:         resp.Status,
		SourceIdentity: resp.GithubUsername,
		Outputs:        models.OutputURLs{HTML: resp.HTMLURL, PDF: resp.PDFURL},
		ErrorMessage:   resp.Error,
		CreatedAt:      resp.CreatedAt,
		UpdatedAt:      resp.UpdatedAt,
	}, nil
}

func (c *Client) MyResults(ctx context.Context, token string) ([]models.ResultSummary, error) {
	const op = "backend.my_results"
	if err := requireToken(op, token); err != nil {
		return nil, err
	}
	var resp []resultItem
	if err := c.do(ctx, request{op: op, method: http.MethodGet, path: "/resume/my-resumes", token: token}, &resp); err != nil {
		return nil, err
	}
	out := make([]models.ResultSummary, 0, len(resp))
	for _, item := range resp {
		out = append(out, models.ResultSummary{
			Cover:   item.ResumeCover,
			Outputs: models.OutputURLs{HTML: item.DownloadLinks.HTML, PDF: item.DownloadLinks.PDF},
		})
	}
	return out, nil
}

func (c *Client) DownloadURLs(ctx context.Context, jobID string) (models.OutputURLs, error) {
	var resp downloadResponse
	req := request{op: "backend.download_urls", method: http.MethodGet, path: "/resume/" + url.PathEscape(jobID) + "/download"}
	if err := c.do(ctx, req, &resp); err != nil {
		return models.OutputURLs{}, err
	}
	var out models.OutputURLs
	if resp.HTMLURL != "" {
		out.HTML = &resp.HTMLURL
	}
	if resp.PDFURL != "" {
		out.PDF = &resp.PDFURL
	}
	return out, nil
}
