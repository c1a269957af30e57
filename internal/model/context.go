// Package model defines database models
package model

import "strings"

// ContextType tells what kind of entity owns a finalized attachment
type ContextType string

const (
	ContextSchedule ContextType = "SCHEDULE"
	ContextProfile  ContextType = "PROFILE"
	ContextTeam     ContextType = "TEAM"
	ContextTodo     ContextType = "TODO"
)

var contextTypes = []ContextType{ContextSchedule, ContextProfile, ContextTeam, ContextTodo}

// ParseContextType accepts any casing of a known context type
func ParseContextType(s string) (ContextType, bool) {
	t := ContextType(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range contextTypes {
		if v == t {
			return t, true
		}
	}

	return "", false
}

// Dir is the directory name used for the context under the storage root
func (t ContextType) Dir() string {
	return strings.ToLower(string(t))
}

type ThumbnailStatus string

const (
	ThumbnailNone    ThumbnailStatus = "NONE"
	ThumbnailPending ThumbnailStatus = "PENDING"
	ThumbnailReady   ThumbnailStatus = "READY"
	ThumbnailFailed  ThumbnailStatus = "FAILED"
)

// Caller is the authenticated identity performing an operation
type Caller struct {
	ID int64
}
