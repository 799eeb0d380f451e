// Package orders names the protective orders we place and recognises them
// again among the open orders an exchange reports.
package orders

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUnknown    Role = ""
	RoleTakeProfit Role = "TP"
	RoleStopLoss   Role = "SL"
	RoleEntry      Role = "ENTRY"
)

// Reason tells why an order was placed. It is encoded into the link id.
type Reason string

const (
	ReasonRebalance Reason = "rb"
	ReasonDefaultSL Reason = "sl"
	ReasonReplace   Reason = "rp"
	ReasonMirror    Reason = "mr"
	ReasonRecovery  Reason = "rc"
)

// MaxLinkIDLen is the OKX limit for algoClOrdId.
const MaxLinkIDLen = 32

// LinkID is a parsed client order id of ours.
type LinkID struct {
	Role   Role
	Index  int // TP level, 1-based; 0 for SL
	Reason Reason
	Nonce  string
	Raw    string
}

// linkIDRegex: ROLE REASON NONCE, e.g. "TP2rb9f8e7d6c5b4a3210"
var linkIDRegex = regexp.MustCompile(`^(TP[1-9]|SL)(rb|sl|rp|mr|rc)([0-9a-f]{16})$`)

// NewLinkID builds an alphanumeric id: "TP<n>" or "SL", a reason code and 16
// hex chars of uuid entropy. index is ignored for stop-losses.
func NewLinkID(role Role, index int, reason Reason) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:16]

	prefix := string(RoleStopLoss)
	if role == RoleTakeProfit {
		if index < 1 || index > 9 {
			index = 1
		}
		prefix = string(RoleTakeProfit) + strconv.Itoa(index)
	}
	return prefix + string(reason) + nonce
}

// ParseLinkID parses an id produced by NewLinkID.
// Returns nil if not our format (legacy or foreign ids).
func ParseLinkID(raw string) *LinkID {
	if raw == "" {
		return nil
	}
	m := linkIDRegex.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}

	id := &LinkID{Reason: Reason(m[2]), Nonce: m[3], Raw: raw}
	if m[1] == string(RoleStopLoss) {
		id.Role = RoleStopLoss
		return id
	}
	id.Role = RoleTakeProfit
	id.Index = int(m[1][2] - '0')
	return id
}

// Loose legacy markers. A marker counts only at the start of the id, after a
// '_' or '-', or as an upper-case word glued to a lower-case prefix
// ("mirrorTP"), so "output1" or "http-x" stay unknown.
var (
	tpMarker = regexp.MustCompile(`(?:(?:^|[_-])(?i:tp)|[a-z0-9]TP)(?:[_-]*([1-9]))?(?:$|[^a-zA-Z])`)
	slMarker = regexp.MustCompile(`(?:(?:^|[_-])(?i:sl)|[a-z0-9]SL)(?:$|[^a-zA-Z])|(?:^|[_-])(?i:stop)|[a-z0-9](?:STOP|Stop)`)
)

// GuessRoleFromLinkID is the loose fallback for legacy ids that only carry a
// "tp"/"sl" marker in them ("btc_tp_2", "mirror-SL-x").
func GuessRoleFromLinkID(raw string) (Role, int) {
	if id := ParseLinkID(raw); id != nil {
		return id.Role, id.Index
	}
	if m := tpMarker.FindStringSubmatch(raw); m != nil {
		idx := 0
		if m[1] != "" {
			idx = int(m[1][0] - '0')
		}
		return RoleTakeProfit, idx
	}
	if slMarker.MatchString(raw) {
		return RoleStopLoss, 0
	}
	return RoleUnknown, 0
}
