// Package errs classifies arbitrary errors raised anywhere in the upload
// pipeline into a small canonical taxonomy so the retry engine and
// strategy selector can reason about them without knowing their origin.
package errs

import "strings"

// Kind is the canonical error taxonomy. Classification never depends on
// anything but the error value and the static tables in this file.
type Kind string

const (
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindConnectionReset Kind = "connection_reset"
	KindDNS             Kind = "dns"
	KindServerUnreach   Kind = "server_unreachable"
	KindServer          Kind = "server"
	KindRateLimit       Kind = "rate_limit"
	KindAPI             Kind = "api"
	KindAuth            Kind = "auth"
	KindPermission      Kind = "permission"
	KindQuota           Kind = "quota"
	KindFile            Kind = "file"
	KindValidation      Kind = "validation"
	KindMemory          Kind = "memory"
	KindWorker          Kind = "worker"
	KindMerge           Kind = "merge"
	KindSecurity        Kind = "security"
	KindDataCorruption  Kind = "data_corruption"
	KindContentEncoding Kind = "content_encoding"
	KindDataProcessing  Kind = "data_processing"
	KindCancel          Kind = "cancel"
	KindUnknown         Kind = "unknown"
)

// Group buckets kinds for strategy-table lookups.
type Group string

const (
	GroupNetwork     Group = "network"
	GroupServer      Group = "server"
	GroupFile        Group = "file"
	GroupResource    Group = "resource"
	GroupPermission  Group = "permission"
	GroupSecurity    Group = "security"
	GroupData        Group = "data"
	GroupUser        Group = "user"
	GroupEnvironment Group = "environment"
	GroupOther       Group = "other"
)

var kindGroup = map[Kind]Group{
	KindNetwork:         GroupNetwork,
	KindTimeout:         GroupNetwork,
	KindConnectionReset: GroupNetwork,
	KindDNS:             GroupNetwork,
	KindServerUnreach:   GroupNetwork,
	KindServer:          GroupServer,
	KindRateLimit:       GroupServer,
	KindAPI:             GroupServer,
	KindAuth:            GroupPermission,
	KindPermission:      GroupPermission,
	KindQuota:           GroupResource,
	KindFile:            GroupFile,
	KindValidation:      GroupUser,
	KindMemory:          GroupResource,
	KindWorker:          GroupEnvironment,
	KindMerge:           GroupServer,
	KindSecurity:        GroupSecurity,
	KindDataCorruption:  GroupData,
	KindContentEncoding: GroupData,
	KindDataProcessing:  GroupData,
	KindCancel:          GroupUser,
	KindUnknown:         GroupOther,
}

// nonRecoverable is the default set of kinds the retry engine must never
// retry. Callers may extend it via Context.ExtraNonRecoverable.
var nonRecoverable = map[Kind]bool{
	KindSecurity:   true,
	KindCancel:     true,
	KindValidation: true,
	KindPermission: true,
	KindQuota:      true,
}

// policy is the table-driven priority + suggested retry cap per kind.
type policy struct {
	priority          int
	suggestedStrategy string
	maxRetries        int
}

var policies = map[Kind]policy{
	KindNetwork:         {priority: 5, suggestedStrategy: "jittered", maxRetries: 5},
	KindTimeout:         {priority: 5, suggestedStrategy: "exponential", maxRetries: 4},
	KindConnectionReset: {priority: 5, suggestedStrategy: "jittered", maxRetries: 5},
	KindDNS:             {priority: 4, suggestedStrategy: "exponential", maxRetries: 3},
	KindServerUnreach:   {priority: 4, suggestedStrategy: "stepped", maxRetries: 4},
	KindServer:          {priority: 3, suggestedStrategy: "linear", maxRetries: 3},
	KindRateLimit:       {priority: 6, suggestedStrategy: "stepped", maxRetries: 5},
	KindAPI:             {priority: 3, suggestedStrategy: "linear", maxRetries: 2},
	KindAuth:            {priority: 1, suggestedStrategy: "fixed", maxRetries: 0},
	KindPermission:      {priority: 1, suggestedStrategy: "fixed", maxRetries: 0},
	KindQuota:           {priority: 1, suggestedStrategy: "fixed", maxRetries: 0},
	KindFile:            {priority: 2, suggestedStrategy: "fixed", maxRetries: 1},
	KindValidation:      {priority: 0, suggestedStrategy: "fixed", maxRetries: 0},
	KindMemory:          {priority: 2, suggestedStrategy: "linear", maxRetries: 2},
	KindWorker:          {priority: 2, suggestedStrategy: "linear", maxRetries: 2},
	KindMerge:           {priority: 3, suggestedStrategy: "exponential", maxRetries: 3},
	KindSecurity:        {priority: 0, suggestedStrategy: "fixed", maxRetries: 0},
	KindDataCorruption:  {priority: 1, suggestedStrategy: "fixed", maxRetries: 1},
	KindContentEncoding: {priority: 2, suggestedStrategy: "linear", maxRetries: 1},
	KindDataProcessing:  {priority: 2, suggestedStrategy: "linear", maxRetries: 2},
	KindCancel:          {priority: 0, suggestedStrategy: "fixed", maxRetries: 0},
	KindUnknown:         {priority: 2, suggestedStrategy: "exponential", maxRetries: 2},
}

// marker is one case-folded substring test mapped to a kind, evaluated in
// order (first match wins) when the error isn't a *UploadError.
var markers = []struct {
	substr string
	kind   Kind
}{
	{"timeout", KindTimeout},
	{"timed out", KindTimeout},
	{"connection reset", KindConnectionReset},
	{"connection closed", KindConnectionReset},
	{"econnreset", KindConnectionReset},
	{"dns", KindDNS},
	{"resolve", KindDNS},
	{"no such host", KindDNS},
	{"offline", KindNetwork},
	{"internet", KindNetwork},
	{"network", KindNetwork},
	{"429", KindRateLimit},
	{"rate limit", KindRateLimit},
	{"too many requests", KindRateLimit},
	{"500", KindServer},
	{"503", KindServer},
	{"502", KindServer},
	{"bad gateway", KindServer},
	{"service unavailable", KindServer},
	{"permission", KindPermission},
	{"denied", KindPermission},
	{"unauthorized", KindAuth},
	{"forbidden", KindAuth},
	{"404", KindAPI},
	{"not found", KindAPI},
	{"quota", KindQuota},
	{"checksum", KindDataCorruption},
	{"corrupt", KindDataCorruption},
	{"cancel", KindCancel},
	{"aborted", KindCancel},
}

// UploadError is the internal error type the engine raises itself; when
// present, classification trusts its Kind tag directly instead of
// pattern-matching the message.
type UploadError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *UploadError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *UploadError) Unwrap() error { return e.Cause }

// New builds an UploadError with an explicit kind tag.
func New(kind Kind, message string, cause error) *UploadError {
	return &UploadError{Kind: kind, Message: message, Cause: cause}
}

// Classification is the outcome of classify(error, ctx).
type Classification struct {
	Kind               Kind
	Group              Group
	Recoverable        bool
	SuggestedStrategy  string
	SuggestedMaxRetries int
	Priority           int
}

// Context carries the extra non-recoverable kinds a caller configured.
type Context struct {
	ExtraNonRecoverable []Kind
}

// Classify maps any error to its canonical classification. Deterministic:
// depends only on err and the static tables above (plus ctx's configured
// extensions).
func Classify(err error, ctx Context) Classification {
	kind := classifyKind(err)
	return classification(kind, ctx)
}

func classifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ue *UploadError
	if asUploadError(err, &ue) {
		return ue.Kind
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m.substr) {
			return m.kind
		}
	}
	return KindUnknown
}

func asUploadError(err error, out **UploadError) bool {
	for err != nil {
		if ue, ok := err.(*UploadError); ok {
			*out = ue
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func classification(kind Kind, ctx Context) Classification {
	grp := kindGroup[kind]
	if grp == "" {
		grp = GroupOther
	}
	p := policies[kind]
	recoverable := !nonRecoverable[kind]
	if recoverable {
		for _, extra := range ctx.ExtraNonRecoverable {
			if extra == kind {
				recoverable = false
				break
			}
		}
	}
	return Classification{
		Kind:                kind,
		Group:               grp,
		Recoverable:         recoverable,
		SuggestedStrategy:   p.suggestedStrategy,
		SuggestedMaxRetries: p.maxRetries,
		Priority:            p.priority,
	}
}

// MaxRetries returns the suggested retry cap for a kind; the Retry Engine
// must never retry beyond this value.
func MaxRetries(kind Kind) int {
	return policies[kind].maxRetries
}
