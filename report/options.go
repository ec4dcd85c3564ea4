package report

import (
	"fmt"
	"maps"

	"github.com/spf13/cast"
)

// Option keys understood by the executor. Any other key is passed through
// to the Generator and ResultStore untouched.
const (
	KeyUserID       = "userid"
	KeyMode         = "mode"
	KeySessionID    = "session_id"
	KeyReportSource = "report_source"
	KeyLimit        = "limit"
)

const (
	DefaultUserID    = "system"
	ModeAdhoc        = "adhoc"
	ModeSchedule     = "schedule"
	ReportSourceUser = "Generated by user"
)

// Options is the option bundle travelling with a run. Values may have been
// through a JSON round trip, so accessors coerce with cast.
type Options map[string]any

// Clone returns a shallow copy that is safe to modify.
func (o Options) Clone() Options {
	c := make(Options, len(o)+2)
	maps.Copy(c, o)
	return c
}

func (o Options) String(key string) string { return cast.ToString(o[key]) }

func (o Options) Int(key string) int { return cast.ToInt(o[key]) }

// UserID returns the requesting user, "system" when unset.
func (o Options) UserID() string {
	if u := o.String(KeyUserID); u != "" {
		return u
	}
	return DefaultUserID
}

// Mode returns the run mode, "adhoc" when unset.
func (o Options) Mode() string {
	if m := o.String(KeyMode); m != "" {
		return m
	}
	return ModeAdhoc
}

func (o Options) SessionID() string { return o.String(KeySessionID) }

// Identity is the result-ownership key of user-triggered runs.
func Identity(userID, sessionID, mode string) string {
	return fmt.Sprintf("%s|%s|%s", userID, sessionID, mode)
}
