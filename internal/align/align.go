// Package align implements the name-matching and candidate-reranking
// helpers shared by the local scanner, the remote scanner, and the
// move/rename detector (spec.md §4.F, §9). Grounded on
// original_source/nuxeo-drive-client/nxdrive/synchronizer.py's
// name_match/jaccard_index/rerank_local_rename_or_move_candidates trio.
package align

import (
	"regexp"
	"sort"
	"strings"
)

// dedupSuffixPattern matches the duplicate-file suffix a local filesystem
// appends when a name collides on create, e.g. "report__2.pdf" -> "report".
// Kept identical to the original's contract deliberately: per spec.md §9
// Open Question, the ambiguity between a deduped copy and a genuine
// double-underscore filename is preserved rather than resolved, so a
// legitimate "report__2.pdf" created on the remote side still aligns with a
// same-digest local duplicate by design.
var dedupSuffixPattern = regexp.MustCompile(`^(.*)__([0-9]+)$`)

// StripDedupSuffix removes a trailing "__N" deduplication marker from a
// basename (without extension), if present.
func StripDedupSuffix(base string) string {
	if m := dedupSuffixPattern.FindStringSubmatch(base); m != nil {
		return m[1]
	}

	return base
}

// splitExt divides a filename into basename and extension, extension
// including the leading dot (empty when there is none).
func splitExt(name string) (base, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}

	return name[:i], name[i:]
}

// NameMatch reports whether two names are the "same" file for alignment
// purposes: identical, or identical after stripping a dedup suffix from the
// basename, compared case-sensitively with extension preserved.
func NameMatch(a, b string) bool {
	if a == b {
		return true
	}

	aBase, aExt := splitExt(a)
	bBase, bExt := splitExt(b)

	if aExt != bExt {
		return false
	}

	return StripDedupSuffix(aBase) == StripDedupSuffix(bBase)
}

// JaccardIndex computes the Jaccard similarity of two strings' trigram sets.
// This is a general name-similarity helper that no other package calls:
// RerankCandidates scores file candidates 1.0, and folder move/rename
// candidates are ranked by
// ChildSetJaccardIndex instead, since spec.md §4.F defines "jaccard" for
// that purpose as "the Jaccard index of direct-child name sets for
// folders", not name trigram similarity. Returns 0 for strings shorter than
// 3 runes where no trigram can be formed and both inputs are non-identical.
func JaccardIndex(a, b string) float64 {
	if a == b {
		return 1.0
	}

	setA := trigrams(a)
	setB := trigrams(b)

	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for t := range setA {
		if setB[t] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	r := []rune(strings.ToLower(s))
	set := make(map[string]bool)

	if len(r) < 3 {
		if len(r) > 0 {
			set[string(r)] = true
		}

		return set
	}

	for i := 0; i+3 <= len(r); i++ {
		set[string(r[i:i+3])] = true
	}

	return set
}

// ChildSetJaccardIndex computes the Jaccard index of two folders' direct
// child name sets (spec.md §4.F "Re-ranking"): |A ∩ B| / |A ∪ B|, defined as
// 1.0 when both sets are empty. A result of 0.0 prunes the candidate
// entirely in RerankCandidates.
func ChildSetJaccardIndex(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	setA := make(map[string]bool, len(a))
	for _, name := range a {
		setA[name] = true
	}

	setB := make(map[string]bool, len(b))
	for _, name := range b {
		setB[name] = true
	}

	intersection := 0
	for name := range setA {
		if setB[name] {
			intersection++
		}
	}

	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}

	return float64(intersection) / float64(union)
}

// MaxRenameCandidates caps the candidates RerankCandidates will return,
// matching spec.md §9 "Move detection cost": beyond this many surviving
// candidates, ranking degrades to a logged truncation rather than unbounded
// comparison.
const MaxRenameCandidates = 32

// Candidate is one potential rename/move match considered by the detector.
// ChildNames is only populated (and only consulted) for folder candidates.
type Candidate struct {
	ID         string // opaque identity: a pair row ID or remote ref
	Name       string
	ChildNames []string
	SameParent bool
}

// rankedCandidate pairs a Candidate with its computed score for sorting.
type rankedCandidate struct {
	Candidate
	jaccard float64
}

// RerankCandidates scores candidates against (targetName, targetChildNames)
// by the tuple (jaccard, same_name, same_parent) descending, drops
// zero-similarity candidates, and truncates to MaxRenameCandidates
// (spec.md §4.F). Per spec.md §4.F, jaccard is the direct-child-name-set
// Jaccard index for folders (targetChildNames and each candidate's
// ChildNames), and is always 1.0 for files — same_digest candidate
// filtering has already established file identity, so name dissimilarity
// must not prune a genuine file rename. same_name is exact name equality,
// matching the spec's literal "source.local_name == candidate.local_name".
// truncated reports whether truncation actually occurred, so callers can
// log it.
func RerankCandidates(targetName string, targetChildNames []string, folderish bool, candidates []Candidate) (result []Candidate, truncated bool) {
	scored := make([]rankedCandidate, 0, len(candidates))

	for _, c := range candidates {
		ji := 1.0
		if folderish {
			ji = ChildSetJaccardIndex(targetChildNames, c.ChildNames)
		}

		if ji == 0.0 {
			continue
		}

		scored = append(scored, rankedCandidate{c, ji})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].jaccard != scored[j].jaccard {
			return scored[i].jaccard > scored[j].jaccard
		}

		iSameName := scored[i].Name == targetName
		jSameName := scored[j].Name == targetName

		if iSameName != jSameName {
			return iSameName
		}

		return scored[i].SameParent && !scored[j].SameParent
	})

	if len(scored) > MaxRenameCandidates {
		scored = scored[:MaxRenameCandidates]
		truncated = true
	}

	result = make([]Candidate, len(scored))
	for i, r := range scored {
		result[i] = r.Candidate
	}

	return result, truncated
}
