package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// QueryType represents the type of SQL statement
type QueryType int

const (
	QueryUnknown QueryType = iota
	QuerySelect
	QueryInsert
	QueryUpdate
	QueryDelete
	QueryReplace
)

// String returns the upper case keyword, used as metric label
func (t QueryType) String() string {
	switch t {
	case QuerySelect:
		return "SELECT"
	case QueryInsert:
		return "INSERT"
	case QueryUpdate:
		return "UPDATE"
	case QueryDelete:
		return "DELETE"
	case QueryReplace:
		return "REPLACE"
	}
	return "UNKNOWN"
}

// ParsedQuery contains information extracted from a statement.
// The statement itself is never rewritten.
type ParsedQuery struct {
	Type  QueryType
	Table string // Target table, if it could be found
	File  string // Source file from hint
	Line  int    // Source line from hint
	Query string // Original statement
}

var (
	// Match /* file:user.go line:42 */ anywhere in the statement
	hintRegex = regexp.MustCompile(`/\*\s*(file:(\S+))?\s*(line:(\d+))?\s*\*/`)
	// Match statement type (allows comments before keyword)
	queryTypeRegex = regexp.MustCompile(`(?i)\b(SELECT|INSERT|UPDATE|DELETE|REPLACE)\b`)
	// Match target table like INTO users, UPDATE "users" or FROM main.users
	tableRegex = regexp.MustCompile("(?i)\\b(?:INTO|UPDATE|FROM)\\s+(?:['\"`]?[a-zA-Z0-9_$]+['\"`]?\\s*\\.\\s*)?['\"`]?([a-zA-Z0-9_$]+)")
)

// Parse extracts metadata from a SQL statement
func Parse(query string) *ParsedQuery {
	p := &ParsedQuery{
		Query: query,
		Type:  QueryUnknown,
	}

	// Comments are stripped before looking for keywords so that hints cannot match
	body := strings.TrimSpace(hintRegex.ReplaceAllString(query, " "))

	if matches := queryTypeRegex.FindStringSubmatch(body); matches != nil {
		switch strings.ToUpper(matches[1]) {
		case "SELECT":
			p.Type = QuerySelect
		case "INSERT":
			p.Type = QueryInsert
		case "UPDATE":
			p.Type = QueryUpdate
		case "DELETE":
			p.Type = QueryDelete
		case "REPLACE":
			p.Type = QueryReplace
		}
	}

	if matches := tableRegex.FindStringSubmatch(body); matches != nil {
		p.Table = matches[1]
	}

	if matches := hintRegex.FindStringSubmatch(query); matches != nil {
		if matches[2] != "" {
			p.File = matches[2]
		}
		if matches[4] != "" {
			p.Line, _ = strconv.Atoi(matches[4])
		}
	}

	return p
}
