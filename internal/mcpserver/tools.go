package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/ingestd/internal/episode"
	"github.com/flemzord/ingestd/internal/ingest"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// creatorMCP is recorded on groups registered through MCP.
const creatorMCP = "mcp"

// Tools exposes the ingestion service as MCP tools. Failures are reported
// as tool errors so the calling model can read them.
type Tools struct {
	svc *ingest.Service
}

// NewTools returns the tool set backed by svc.
func NewTools(svc *ingest.Service) *Tools {
	return &Tools{svc: svc}
}

// Register adds every tool to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(addEpisodeTool(), t.addEpisode)
	s.AddTool(addDocumentTool(), t.addDocument)
	s.AddTool(confirmPendingTool(), t.confirmPending)
	s.AddTool(mcp.NewTool("list_pending_episodes",
		mcp.WithDescription("List episodes staged without a group, with their routing suggestion and expiry."),
	), t.listPending)
	s.AddTool(mcp.NewTool("get_queue_stats",
		mcp.WithDescription("Queue depth, worker state and processing counters per group."),
		mcp.WithString("group_id", mcp.Description("Limit to one group. Empty returns every group.")),
	), t.queueStats)
	s.AddTool(mcp.NewTool("get_job_by_index",
		mcp.WithDescription("Inspect a job waiting in a group queue without removing it."),
		mcp.WithString("group_id", mcp.Required()),
		mcp.WithNumber("index", mcp.Required(), mcp.Description("0 is the next job to run.")),
	), t.jobByIndex)

	s.AddTool(mcp.NewTool("list_groups",
		mcp.WithDescription("List registered groups."),
		mcp.WithBoolean("include_protected", mcp.Description("Include reserved system groups.")),
		mcp.WithBoolean("include_stats", mcp.Description("Include episode, entity and relationship counts.")),
	), t.listGroups)
	s.AddTool(mcp.NewTool("get_group",
		mcp.WithDescription("Get a group with its usage statistics."),
		mcp.WithString("group_id", mcp.Required()),
	), t.getGroup)
	s.AddTool(mcp.NewTool("register_group",
		mcp.WithDescription("Create or update a group description and metadata."),
		mcp.WithString("group_id", mcp.Required()),
		mcp.WithString("description"),
		mcp.WithString("creator"),
		mcp.WithObject("metadata"),
	), t.registerGroup)
	s.AddTool(mcp.NewTool("delete_group",
		mcp.WithDescription("Remove group metadata. Stored content is kept."),
		mcp.WithString("group_id", mcp.Required()),
	), t.deleteGroup)

	s.AddTool(mcp.NewTool("get_episode_trace",
		mcp.WithDescription("Full processing timeline of one episode: attempts, steps and errors."),
		mcp.WithString("uuid", mcp.Required(), mcp.Description("Episode identity returned at submission.")),
	), t.trace)
	s.AddTool(mcp.NewTool("get_error_patterns",
		mcp.WithDescription("Errors grouped by type, most affected episodes first."),
	), t.errorPatterns)
	s.AddTool(mcp.NewTool("find_episodes_with_error",
		mcp.WithDescription("Episode identities that hit a given error type."),
		mcp.WithString("error_type", mcp.Required()),
		mcp.WithNumber("limit"),
	), t.episodesWithError)
	s.AddTool(mcp.NewTool("get_telemetry_stats",
		mcp.WithDescription("System-wide processing counters and success rate."),
	), t.stats)
	s.AddTool(mcp.NewTool("get_recent_errors",
		mcp.WithDescription("Most recent processing errors."),
		mcp.WithNumber("limit"),
	), t.recentErrors)
	s.AddTool(mcp.NewTool("search_episodes",
		mcp.WithDescription("Search processed episodes by identity or name."),
		mcp.WithString("query", mcp.Required()),
		mcp.WithNumber("limit"),
	), t.search)
	s.AddTool(mcp.NewTool("get_step_timings",
		mcp.WithDescription("Duration statistics per processing step."),
	), t.stepTimings)
	s.AddTool(mcp.NewTool("get_failed_episodes",
		mcp.WithDescription("Episodes whose retries were exhausted."),
		mcp.WithNumber("limit"),
	), t.failedEpisodes)
}

func addEpisodeTool() mcp.Tool {
	return mcp.NewTool("add_episode",
		mcp.WithDescription("Submit an episode. With group_id it is queued on that group; without, it is staged with a group suggestion and must be confirmed with confirm_pending_episode."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("episode_body", mcp.Description("Content of a single episode. Use episodes for a bulk submission.")),
		mcp.WithArray("episodes",
			mcp.Description("Bulk submission: ordered items applied together."),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name":    map[string]any{"type": "string"},
					"content": map[string]any{"type": "string"},
					"source":  map[string]any{"type": "string"},
				},
				"required": []string{"name", "content"},
			}),
		),
		mcp.WithString("group_id"),
		mcp.WithString("source", mcp.Enum("text", "message", "json"), mcp.Description("How the body should be read. Default text.")),
		mcp.WithString("source_description"),
		mcp.WithString("reference_time", mcp.Description("RFC 3339 timestamp the content refers to.")),
		mcp.WithString("uuid", mcp.Description("Caller supplied identity. Generated when empty.")),
		mcp.WithArray("tags", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithArray("labels", mcp.Items(map[string]any{"type": "string"})),
		mcp.WithObject("extraction_hints", mcp.Description("JSON schema passed to the knowledge engine.")),
	)
}

func addDocumentTool() mcp.Tool {
	return mcp.NewTool("add_document",
		mcp.WithDescription("Split a long text into overlapping chunks and queue each as an episode, in order."),
		mcp.WithString("name", mcp.Required()),
		mcp.WithString("text", mcp.Required()),
		mcp.WithString("group_id", mcp.Required()),
		mcp.WithString("source_description"),
	)
}

func confirmPendingTool() mcp.Tool {
	return mcp.NewTool("confirm_pending_episode",
		mcp.WithDescription("Queue a staged episode on a group, registering the group if needed."),
		mcp.WithString("pending_id", mcp.Required()),
		mcp.WithString("group_id", mcp.Required()),
	)
}

type addEpisodeArgs struct {
	Name              string             `json:"name"`
	Body              string             `json:"episode_body"`
	Episodes          []episode.BulkItem `json:"episodes"`
	Group             string             `json:"group_id"`
	Source            string             `json:"source"`
	SourceDescription string             `json:"source_description"`
	ReferenceTime     string             `json:"reference_time"`
	Identity          string             `json:"uuid"`
	Tags              []string           `json:"tags"`
	Labels            []string           `json:"labels"`
	ExtractionHints   json.RawMessage    `json:"extraction_hints"`
}

func (a addEpisodeArgs) request() (ingest.EpisodeRequest, error) {
	req := ingest.EpisodeRequest{
		Name:              a.Name,
		Source:            a.Source,
		SourceDescription: a.SourceDescription,
		Group:             a.Group,
		Identity:          a.Identity,
		Tags:              a.Tags,
		Labels:            a.Labels,
		ExtractionHints:   a.ExtractionHints,
	}
	switch {
	case a.Body != "" && len(a.Episodes) > 0:
		return req, fmt.Errorf("%w: pass either episode_body or episodes, not both", episode.ErrInvalid)
	case len(a.Episodes) > 0:
		req.Body = episode.BulkBody(a.Episodes)
	default:
		req.Body = episode.SingleBody(a.Body)
	}
	if a.ReferenceTime != "" {
		t, err := time.Parse(time.RFC3339, a.ReferenceTime)
		if err != nil {
			return req, fmt.Errorf("%w: reference_time: %v", episode.ErrInvalid, err)
		}
		req.ReferenceTime = t
	}
	return req, nil
}

func (t *Tools) addEpisode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args addEpisodeArgs
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	er, err := args.request()
	if err != nil {
		return result(nil, err)
	}
	job, err := er.Job()
	if err != nil {
		return result(nil, err)
	}
	return result(t.svc.Submit(ingest.WithCreator(ctx, creatorMCP), job))
}

func (t *Tools) addDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var dr ingest.DocumentRequest
	if err := decodeArgs(req, &dr); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.svc.SubmitDocument(ingest.WithCreator(ctx, creatorMCP), dr))
}

func (t *Tools) confirmPending(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Confirm(ctx, req.GetString("pending_id", ""), req.GetString("group_id", "")))
}

func (t *Tools) listPending(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.ListPending(ctx))
}

func (t *Tools) queueStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.QueueStats(ctx, req.GetString("group_id", "")))
}

func (t *Tools) jobByIndex(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.PeekJob(req.GetString("group_id", ""), req.GetInt("index", 0)))
}

func (t *Tools) listGroups(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.ListGroups(ctx, req.GetBool("include_protected", false), req.GetBool("include_stats", true)))
}

func (t *Tools) getGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.GetGroup(ctx, req.GetString("group_id", "")))
}

func (t *Tools) registerGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Group       string         `json:"group_id"`
		Description string         `json:"description"`
		Creator     string         `json:"creator"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := decodeArgs(req, &args); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	creator := args.Creator
	if creator == "" {
		creator = creatorMCP
	}
	return result(t.svc.RegisterGroup(ctx, args.Group, args.Description, creator, args.Metadata))
}

func (t *Tools) deleteGroup(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("group_id", "")
	if err := t.svc.DeleteGroup(ctx, id); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("group %s deleted", id)), nil
}

func (t *Tools) trace(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().Trace(ctx, req.GetString("uuid", "")))
}

func (t *Tools) errorPatterns(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().ErrorPatterns(ctx))
}

func (t *Tools) episodesWithError(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().IdentitiesByErrorType(ctx, req.GetString("error_type", ""), req.GetInt("limit", 0)))
}

func (t *Tools) stats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().Stats(ctx))
}

func (t *Tools) recentErrors(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().RecentErrors(ctx, req.GetInt("limit", 0)))
}

func (t *Tools) search(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return result(t.svc.Telemetry().Search(ctx, q, req.GetInt("limit", 0)))
}

func (t *Tools) stepTimings(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().StepTimings(ctx))
}

func (t *Tools) failedEpisodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return result(t.svc.Telemetry().FailedEpisodes(ctx, req.GetInt("limit", 0)))
}

// decodeArgs maps the call arguments onto v through JSON.
func decodeArgs(req mcp.CallToolRequest, v any) error {
	data, err := json.Marshal(req.GetArguments())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// result renders v as indented JSON, or err as a tool error.
func result(v any, err error) (*mcp.CallToolResult, error) {
	if err != nil {
		switch {
		case ingest.IsValidation(err):
			return mcp.NewToolResultError("invalid request: " + err.Error()), nil
		case ingest.IsNotFound(err):
			return mcp.NewToolResultError("not found: " + err.Error()), nil
		default:
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Join(errors.New("mcpserver: encode result"), err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
