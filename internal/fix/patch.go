package fix

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bugbot.app/relay/common/llm"
	"bugbot.app/relay/internal/pipeline"
	"bugbot.app/relay/internal/service/source_host"
)

type PatchResponse struct {
	Summary string       `json:"summary" jsonschema_description:"One paragraph explaining the root cause and the fix"`
	Changes []FileChange `json:"changes" jsonschema_description:"Complete new contents for each changed file"`
}

type FileChange struct {
	Path    string `json:"path" jsonschema_description:"Path of a file from the provided context"`
	Content string `json:"content" jsonschema_description:"The full new file content"`
	Reason  string `json:"reason" jsonschema_description:"Why this file changes"`
}

var patchSchema = llm.GenerateSchema[PatchResponse]()

// proposePatch asks the model for full-file replacements limited to the fetched files.
func (g *Generator) proposePatch(ctx context.Context, req pipeline.FixRequest, files map[string]source_host.File) (PatchResponse, error) {
	var patch PatchResponse
	err := chatWithRetry(ctx, g.llm, g.cfg.RetryBackoff, "patch", llm.Request{
		SystemPrompt: patchSystemPrompt,
		UserPrompt:   buildPatchPrompt(req, files),
		SchemaName:   "patch_response",
		Schema:       patchSchema,
		MaxTokens:    g.cfg.MaxTokens,
		Temperature:  llm.Temp(0.2),
	}, &patch)
	if err != nil {
		return PatchResponse{}, err
	}

	changes := patch.Changes[:0]
	for _, c := range patch.Changes {
		orig, ok := files[c.Path]
		if !ok {
			return PatchResponse{}, fmt.Errorf("model changed a file outside the provided context: %s", c.Path)
		}
		if c.Content == orig.Content {
			continue
		}
		changes = append(changes, c)
	}
	if len(changes) == 0 {
		return PatchResponse{}, ErrNoChanges
	}
	patch.Changes = changes
	return patch, nil
}

func buildPatchPrompt(req pipeline.FixRequest, files map[string]source_host.File) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "## Issue %s\n%s\n\n", req.Issue.Identifier, req.Issue.Title)
	if req.Issue.Description != "" {
		sb.WriteString(req.Issue.Description)
		sb.WriteString("\n\n")
	}
	if req.Report != "" {
		sb.WriteString("## Report\n")
		sb.WriteString(req.Report)
		sb.WriteString("\n\n")
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	sb.WriteString("## Files\n")
	for _, p := range paths {
		fmt.Fprintf(&sb, "### %s\n```\n%s\n```\n\n", p, files[p].Content)
	}
	return sb.String()
}

const patchSystemPrompt = `You fix bugs in a codebase.

You receive an issue, the user's report and the full contents of the files most likely involved.
Return the smallest change that fixes the bug.

## Rules

- Only change files listed under "Files", using their exact paths
- Return the complete new content of every file you change
- Do not reformat or reorder unrelated code
- If none of the files is involved, return an empty list of changes`
