package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/quicksave/internal/state"
)

const (
	ChangeTransform = "Transform"
	ChangeGeometry  = "Geometry"
	ChangeShading   = "Shading"

	DefaultMessage = "Update: File saved"
	messagePrefix  = "Update: "
)

var ErrUnknownChangeKind = errors.New("pipeline: unknown change kind")

var knownChangeKinds = mapset.NewSet(ChangeTransform, ChangeGeometry, ChangeShading)

// NormalizeChangeKind maps "geometry", " GEOMETRY " etc. to the canonical kind.
func NormalizeChangeKind(kind string) (string, error) {
	k := strings.TrimSpace(kind)
	for _, known := range knownChangeKinds.ToSlice() {
		if strings.EqualFold(k, known) {
			return known, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChangeKind, kind)
}

// mergeChangeKinds returns the sorted union of existing and added kinds.
func mergeChangeKinds(existing []string, added ...string) []string {
	set := mapset.NewSet(existing...)
	set.Append(added...)
	kinds := set.ToSlice()
	sort.Strings(kinds)
	return kinds
}

// BuildMessage picks the commit message for an upload: the user's pending
// message if set, otherwise a summary of observed change kinds, otherwise a
// generic message.
func BuildMessage(st *state.ProjectState) string {
	if msg := strings.TrimSpace(st.PendingCommitMessage); msg != "" {
		return msg
	}
	if len(st.ChangeKinds) > 0 {
		return messagePrefix + strings.Join(mergeChangeKinds(st.ChangeKinds), ", ")
	}
	return DefaultMessage
}
