// Package snapcache is the read-optimized representation of published runs.
//
// Every run writes into its own key namespace:
//
//	cm.run.<run>.<user>               cluster sequence of the user
//	cl.run.<run>.cid.<seq>.<user>     distance to center ("" when unknown)
//
// and readers find the live run through one pointer per campus:
//
//	active.campus.<campus>            "run:<run>"
//
// A run's namespace is fully written before the pointer is flipped to it, so
// readers that traverse pointer then run keys never see a mix of two runs.
package snapcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("snapcache: not found")

	// ErrMalformed is returned when a stored value cannot be parsed.
	ErrMalformed = errors.New("snapcache: malformed value")
)

// Op is one key write in a warmup batch.
type Op struct {
	Key   string
	Value []byte
}

// Member is one entry of a cluster's member set.
type Member struct {
	UserID   int64
	Distance *float64
}

// Cache stores run-scoped membership and the per-campus active pointer.
type Cache interface {
	// Apply writes a batch of operations as one pipeline. On error some
	// operations of the batch may have been applied.
	Apply(ctx context.Context, ops []Op) error

	// SetActive points campusID at runID.
	SetActive(ctx context.Context, campusID, runID int64) error

	// ActiveRun returns the run campusID points at, or ErrNotFound.
	ActiveRun(ctx context.Context, campusID int64) (int64, error)

	// ClusterOf returns userID's cluster sequence in runID, or ErrNotFound.
	ClusterOf(ctx context.Context, runID, userID int64) (int, error)

	// Members returns the member set of one cluster, ordered by
	// (distance, user id) with unknown distances last.
	Members(ctx context.Context, runID int64, seq int) ([]Member, error)
}

// UserKey is the key holding a user's cluster sequence.
func UserKey(runID, userID int64) string {
	return fmt.Sprintf("cm.run.%d.%d", runID, userID)
}

// MemberPrefix is the key prefix of one cluster's member set.
func MemberPrefix(runID int64, seq int) string {
	return fmt.Sprintf("cl.run.%d.cid.%d.", runID, seq)
}

// MemberKey is the key of one member set entry.
func MemberKey(runID int64, seq int, userID int64) string {
	return MemberPrefix(runID, seq) + strconv.FormatInt(userID, 10)
}

// ActiveKey is the key of a campus's active run pointer.
func ActiveKey(campusID int64) string {
	return fmt.Sprintf("active.campus.%d", campusID)
}

// MemberOps returns the two writes that publish one membership row.
func MemberOps(runID int64, seq int, userID int64, distance *float64) []Op {
	return []Op{
		{Key: UserKey(runID, userID), Value: []byte(strconv.Itoa(seq))},
		{Key: MemberKey(runID, seq, userID), Value: EncodeDistance(distance)},
	}
}

// EncodeDistance renders a distance, or an empty value when unknown.
func EncodeDistance(d *float64) []byte {
	if d == nil {
		return []byte{}
	}
	return []byte(strconv.FormatFloat(*d, 'g', -1, 64))
}

// DecodeDistance parses a value written by EncodeDistance.
func DecodeDistance(b []byte) (*float64, error) {
	if len(b) == 0 {
		return nil, nil
	}
	d, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return nil, fmt.Errorf("distance %q: %w", b, ErrMalformed)
	}
	return &d, nil
}

func encodePointer(runID int64) []byte {
	return []byte("run:" + strconv.FormatInt(runID, 10))
}

func decodePointer(b []byte) (int64, error) {
	s, ok := strings.CutPrefix(string(b), "run:")
	if !ok {
		return 0, fmt.Errorf("pointer %q: %w", b, ErrMalformed)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("pointer %q: %w", b, ErrMalformed)
	}
	return id, nil
}

func decodeSeq(b []byte) (int, error) {
	seq, err := strconv.Atoi(string(b))
	if err != nil {
		return 0, fmt.Errorf("cluster seq %q: %w", b, ErrMalformed)
	}
	return seq, nil
}

// memberFromKey builds a Member from a member-set key and its value.
func memberFromKey(prefix, key string, value []byte) (Member, error) {
	uid, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil {
		return Member{}, fmt.Errorf("member key %q: %w", key, ErrMalformed)
	}
	d, err := DecodeDistance(value)
	if err != nil {
		return Member{}, err
	}
	return Member{UserID: uid, Distance: d}, nil
}

// SortMembers orders members by (distance, user id), unknown distances last.
func SortMembers(ms []Member) {
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i], ms[j]
		switch {
		case a.Distance != nil && b.Distance != nil:
			if *a.Distance != *b.Distance {
				return *a.Distance < *b.Distance
			}
		case a.Distance != nil:
			return true
		case b.Distance != nil:
			return false
		}
		return a.UserID < b.UserID
	})
}
