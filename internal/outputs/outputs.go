// Package outputs extracts structured data from raw agent output.
//
// Two forms are recognized. Lines shaped like KEY: value become context
// variables under the lower-cased key. A STORIES_JSON: marker followed by a
// JSON array declares the story set of a loop step.
package outputs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	deckerrors "github.com/castleridge-io/clawdeck-sub002/internal/errors"
	"github.com/castleridge-io/clawdeck-sub002/internal/types"
)

// StoriesMarker introduces the story block in an agent output.
const StoriesMarker = "STORIES_JSON:"

// keyPattern matches UPPER_SNAKE_KEY: value lines.
var keyPattern = regexp.MustCompile(`^([A-Z][A-Z0-9_]*):\s*(.*)$`)

// Result is everything parsed out of one output.
type Result struct {
	// Context holds KEY: value pairs, keys lower-cased, last write wins.
	Context map[string]string
	// Stories is set when a well-formed story block was found.
	Stories []types.StoryInput
	// HasStories reports whether a story marker was present at all.
	HasStories bool
	// StoriesErr is the recoverable error from a malformed story block.
	StoriesErr error
}

// Parse scans output for context pairs and a story block. It never fails:
// a malformed story block is reported in StoriesErr and dropped.
func Parse(output string) Result {
	res := Result{Context: ParseContext(output)}
	res.Stories, res.HasStories, res.StoriesErr = ParseStories(output)
	if res.StoriesErr != nil {
		res.Stories = nil
	}
	return res
}

// ParseContext returns the KEY: value pairs of output under lower-cased keys.
// Keys starting with STORIES_JSON are skipped.
func ParseContext(output string) map[string]string {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		m := keyPattern.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		if strings.HasPrefix(m[1], "STORIES_JSON") {
			continue
		}
		vars[strings.ToLower(m[1])] = strings.TrimSpace(m[2])
	}
	return vars
}

// storyJSON is the wire shape of one element of a story block.
type storyJSON struct {
	StoryIndex         *int     `json:"storyIndex"`
	StoryID            string   `json:"storyId"`
	ID                 string   `json:"id"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptanceCriteria"`
}

// ParseStories extracts the story block from output. found is false when no
// marker is present. A present but malformed block returns a StoriesParseError.
func ParseStories(output string) (stories []types.StoryInput, found bool, err error) {
	idx := strings.Index(output, StoriesMarker)
	if idx < 0 {
		return nil, false, nil
	}

	rest := stripFence(output[idx+len(StoriesMarker):])
	if !strings.HasPrefix(rest, "[") {
		return nil, true, deckerrors.StoriesParseError(fmt.Errorf("expected a JSON array after %s", StoriesMarker))
	}

	var raw []storyJSON
	if err := json.NewDecoder(strings.NewReader(rest)).Decode(&raw); err != nil {
		return nil, true, deckerrors.StoriesParseError(err)
	}

	stories = make([]types.StoryInput, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, r := range raw {
		in := types.StoryInput{
			StoryIndex:         i,
			StoryID:            r.StoryID,
			Title:              r.Title,
			Description:        r.Description,
			AcceptanceCriteria: r.AcceptanceCriteria,
		}
		if r.StoryIndex != nil {
			in.StoryIndex = *r.StoryIndex
		}
		if in.StoryID == "" {
			in.StoryID = r.ID
		}
		if in.StoryID == "" {
			return nil, true, deckerrors.StoriesParseError(fmt.Errorf("story %d has no storyId", i))
		}
		if seen[in.StoryID] {
			return nil, true, deckerrors.StoriesParseError(fmt.Errorf("duplicate storyId %q", in.StoryID))
		}
		seen[in.StoryID] = true
		stories = append(stories, in)
	}
	return stories, true, nil
}

// stripFence drops leading whitespace and an optional ``` or ```json fence line.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = strings.TrimSpace(s[nl+1:])
		}
	}
	return s
}
