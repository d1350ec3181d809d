// Package mention rewrites @-mentions in comment text against the member
// directory.
package mention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"quorum/api/internal/directory"
)

// DeletedUserToken replaces mentions of members that have been removed from
// the namespace since they were mentioned.
const DeletedUserToken = "@DELETED_USER"

// Result is the outcome of one rewrite pass over a full comment body.
// Mentioned holds member ids in order of first appearance, deduplicated.
type Result struct {
	Content   string
	Mentioned []string
}

type Resolver struct {
	dir directory.Gateway
}

func NewResolver(dir directory.Gateway) *Resolver {
	return &Resolver{dir: dir}
}

// Rewrite scans content for @<candidate> tokens, where a candidate is the
// maximal run of non-whitespace after the @. Tokens matching a current
// member are normalized to the member's canonical email and recorded in
// Mentioned; tokens matching a removed member become DeletedUserToken;
// anything else stays as typed. Rewriting already-normalized content is a
// no-op because canonical emails resolve back to the same member.
func (r *Resolver) Rewrite(ctx context.Context, content string) (Result, error) {
	var out strings.Builder
	out.Grow(len(content))

	mentioned := make([]string, 0)
	seen := make(map[string]struct{})

	runes := []rune(content)
	for i := 0; i < len(runes); {
		if runes[i] != '@' {
			out.WriteRune(runes[i])
			i++
			continue
		}

		start := i + 1
		end := start
		for end < len(runes) && !unicode.IsSpace(runes[end]) {
			end++
		}
		candidate := string(runes[start:end])
		if candidate == "" {
			out.WriteRune('@')
			i = end
			continue
		}

		member, err := r.dir.ResolveMember(ctx, candidate)
		switch {
		case errors.Is(err, directory.ErrNotFound):
			out.WriteString("@" + candidate)
		case err != nil:
			return Result{}, fmt.Errorf("resolve mention %q: %w", candidate, err)
		case member.Deleted:
			out.WriteString(DeletedUserToken)
		default:
			out.WriteString("@" + member.Email)
			if _, ok := seen[member.ID]; !ok {
				seen[member.ID] = struct{}{}
				mentioned = append(mentioned, member.ID)
			}
		}
		i = end
	}

	return Result{Content: out.String(), Mentioned: mentioned}, nil
}
