// Package fingerprint computes content hashes of clustering cycle inputs.
//
// Two cycles with the same fingerprint clustered identical candidates under
// identical parameters, so their runs are expected to be identical.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/solmeal/internal/cluster"
)

// Domain prefixes for hash separation. The version suffix allows the
// encoding to change without colliding with older hashes.
const (
	DomainCycleInput = "solmeal/cycle-input/v1"
)

// microScale converts floats to fixed-point integers (six decimal places).
const microScale = 1e6

// hashWithDomain returns hex(SHA256(domain + 0x00 + data)).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Inputs are the values that determine a clustering run.
type Inputs struct {
	CampusID   int64
	Anchor     time.Time
	Params     cluster.Params
	Candidates []cluster.Candidate
}

// Micro converts a float to its fixed-point representation.
func Micro(v float64) Int {
	return Int(math.Round(v * microScale))
}

// Compute returns the fingerprint of in. Candidate order does not matter.
func Compute(in Inputs) (string, error) {
	data, err := Marshal(inputsValue(in))
	if err != nil {
		return "", fmt.Errorf("fingerprint: marshal: %w", err)
	}
	return hashWithDomain(DomainCycleInput, data), nil
}

func inputsValue(in Inputs) Object {
	cands := make([]cluster.Candidate, len(in.Candidates))
	copy(cands, in.Candidates)
	sort.Slice(cands, func(i, j int) bool { return cands[i].UserID < cands[j].UserID })

	arr := make(Array, len(cands))
	for i, c := range cands {
		arr[i] = candidateValue(c)
	}

	p := in.Params
	return Object{
		"campus_id": Int(in.CampusID),
		"anchor":    String(in.Anchor.UTC().Format(time.RFC3339)),
		"params": Object{
			"min_group_size": Int(p.MinGroupSize),
			"k_min":          Int(p.KMin),
			"max_clusters":   Int(p.MaxClusters),
			"seed":           Int(p.Seed),
			"w_loc":          Micro(p.WLoc),
			"w_pref":         Micro(p.WPref),
			"w_time":         Micro(p.WTime),
		},
		"candidates": arr,
	}
}

func candidateValue(c cluster.Candidate) Object {
	prefs := make(Object, len(c.Prefs))
	for k, v := range c.Prefs {
		key := norm.NFC.String(k)
		if prev, ok := prefs[key].(Int); ok {
			prefs[key] = prev + Micro(v)
			continue
		}
		prefs[key] = Micro(v)
	}

	avail := make(Array, len(c.Availability))
	for i, v := range c.Availability {
		avail[i] = Micro(v)
	}

	return Object{
		"user_id":      Int(c.UserID),
		"lat":          Micro(c.Lat),
		"lng":          Micro(c.Lng),
		"prefs":        prefs,
		"availability": avail,
	}
}
