package opencast

import (
	"context"
	"encoding/xml"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/zingest/zingest/internal/log"
)

// Default workflow configuration sent with the final ingest call.
var defaultWorkflowConfig = map[string]string{
	"publishToSearch":      "true",
	"flagQuality720p":      "true",
	"publishToApi":         "true",
	"publishToEngage":      "true",
	"straightToPublishing": "true",
	"publishToOaiPmh":      "true",
}

// IngestJob describes one complete mediapackage upload.
type IngestJob struct {
	// EpisodeID scopes the authorization policy, usually the recording uuid.
	EpisodeID  string
	WorkflowID string
	// ACLID selects the episode ACL; empty skips the policy attachment.
	ACLID string
	// Fields feed the Dublin Core and extension catalogs.
	Fields map[string]string
	// VideoPath is the local path of the downloaded track.
	VideoPath string
	// ChatPath is the local path of the chat transcript, empty when absent.
	ChatPath string
}

// IngestResult carries the identifiers Opencast assigned to the episode.
type IngestResult struct {
	MediaPackageID     string
	WorkflowInstanceID string
}

// Ingest drives the sequential upload protocol. Each step consumes the
// mediapackage XML of the previous response; any malformed intermediate
// document aborts the run.
func (c *Client) Ingest(ctx context.Context, job IngestJob) (IngestResult, error) {
	logger := log.WithComponentFromContext(ctx, "opencast")

	if job.WorkflowID == "" {
		return IngestResult{}, &APIError{Sentinel: ErrOpencast, Operation: "ingest",
			Body: "workflow id is missing"}
	}

	logger.Info().Str("event", "ingest.create").Str("episode_id", job.EpisodeID).
		Msg("creating mediapackage")
	mp, err := c.get(ctx, "/ingest/createMediaPackage")
	if err != nil {
		return IngestResult{}, err
	}
	if err := validateMediaPackage(mp); err != nil {
		return IngestResult{}, err
	}

	episodeDC := EpisodeDublinCore(job.Fields)
	mp, err = c.addDCCatalog(ctx, mp, "dublincore/episode", episodeDC)
	if err != nil {
		return IngestResult{}, err
	}

	if ethDC := EthTerms(job.Fields); ethDC != "" {
		logger.Debug().Str("event", "ingest.ethterms").Str("episode_id", job.EpisodeID).
			Msg("attaching extension catalog")
		if mp, err = c.addDCCatalog(ctx, mp, "ethterms/episode", ethDC); err != nil {
			return IngestResult{}, err
		}
	}

	if job.ACLID != "" {
		if acl, ok := c.catalogs.GetACL(ctx, job.ACLID); ok {
			policy := EpisodeXACML(job.EpisodeID, acl.ACEs)
			mp, err = c.addAttachment(ctx, mp, "security/xacml+episode", filePart{
				field:       "BODY",
				filename:    "xacml.xml",
				contentType: "text/xml",
				reader:      strings.NewReader(policy),
			})
			if err != nil {
				return IngestResult{}, err
			}
		} else {
			logger.Warn().Str("event", "ingest.acl_missing").Str("acl_id", job.ACLID).
				Msg("acl id not found in catalog, skipping policy attachment")
		}
	}

	if job.ChatPath != "" {
		mp, err = c.attachFile(ctx, mp, "/ingest/addAttachment", "chat/transcript",
			job.ChatPath, "text/plain")
		if err != nil {
			return IngestResult{}, err
		}
	}

	logger.Info().Str("event", "ingest.track").Str("episode_id", job.EpisodeID).
		Str("file", filepath.Base(job.VideoPath)).Msg("uploading video track")
	mp, err = c.attachFile(ctx, mp, "/ingest/addTrack", "presentation/source",
		job.VideoPath, "video/mp4")
	if err != nil {
		return IngestResult{}, err
	}

	logger.Info().Str("event", "ingest.start").Str("episode_id", job.EpisodeID).
		Str("workflow_id", job.WorkflowID).Msg("triggering processing")
	fields := url.Values{"mediaPackage": {mp}}
	for name, value := range defaultWorkflowConfig {
		fields.Set(name, value)
	}
	status, body, err := c.postForm(ctx, "/ingest/ingest/"+url.PathEscape(job.WorkflowID), fields)
	if err != nil {
		return IngestResult{}, err
	}
	if status < 200 || status > 299 {
		return IngestResult{}, &APIError{Sentinel: ErrOpencast, Operation: "ingest",
			Status: status, Body: truncate(body, 200)}
	}

	result, err := parseWorkflow(body)
	if err != nil {
		return IngestResult{}, err
	}
	logger.Info().Str("event", "ingest.done").Str("episode_id", job.EpisodeID).
		Str("mediapackage_id", result.MediaPackageID).
		Str("workflow_instance_id", result.WorkflowInstanceID).
		Msg("ingest complete")
	return result, nil
}

func (c *Client) addDCCatalog(ctx context.Context, mp, flavor, dublinCore string) (string, error) {
	status, body, err := c.postForm(ctx, "/ingest/addDCCatalog", url.Values{
		"flavor":       {flavor},
		"mediaPackage": {mp},
		"dublinCore":   {dublinCore},
	})
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &APIError{Sentinel: ErrOpencast, Operation: "addDCCatalog " + flavor,
			Status: status, Body: truncate(body, 200)}
	}
	if err := validateMediaPackage(body); err != nil {
		return "", err
	}
	return body, nil
}

func (c *Client) addAttachment(ctx context.Context, mp, flavor string, part filePart) (string, error) {
	body, err := c.postMultipart(ctx, "/ingest/addAttachment",
		map[string]string{"flavor": flavor, "mediaPackage": mp}, []filePart{part})
	if err != nil {
		return "", err
	}
	if err := validateMediaPackage(body); err != nil {
		return "", err
	}
	return body, nil
}

// attachFile streams a local file as the BODY part of an ingest POST. The
// filename sent to Opencast is the basename of the local path.
func (c *Client) attachFile(ctx context.Context, mp, path, flavor, localPath, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "open " + localPath, Err: err}
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", &APIError{Sentinel: ErrTransport, Operation: "stat " + localPath, Err: err}
	}

	body, err := c.postMultipart(ctx, path,
		map[string]string{"flavor": flavor, "mediaPackage": mp}, []filePart{{
			field:       "BODY",
			filename:    filepath.Base(localPath),
			contentType: contentType,
			reader:      f,
			size:        info.Size(),
		}})
	if err != nil {
		return "", err
	}
	if err := validateMediaPackage(body); err != nil {
		return "", err
	}
	return body, nil
}

// parseWorkflow extracts the workflow instance id and the mediapackage id
// from the workflow XML returned by the final ingest call.
func parseWorkflow(doc string) (IngestResult, error) {
	dec := xml.NewDecoder(strings.NewReader(doc))
	var result IngestResult
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return IngestResult{}, &APIError{Sentinel: ErrMediaPackageInvalid,
				Operation: "parse workflow", Err: err}
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "workflow":
			if result.WorkflowInstanceID == "" {
				result.WorkflowInstanceID = xmlAttr(start, "id")
			}
		case "mediapackage":
			if result.MediaPackageID == "" {
				result.MediaPackageID = xmlAttr(start, "id")
			}
		}
	}
	if result.WorkflowInstanceID == "" || result.MediaPackageID == "" {
		return IngestResult{}, &APIError{Sentinel: ErrMediaPackageInvalid,
			Operation: "parse workflow", Body: "workflow or mediapackage id missing"}
	}
	return result, nil
}

func xmlAttr(el xml.StartElement, name string) string {
	for _, attr := range el.Attr {
		if attr.Name.Local == name {
			return attr.Value
		}
	}
	return ""
}
