package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ArgumentType converts raw argument text into a typed value.
type ArgumentType interface {
	ID() string
	Parse(raw string) (any, error)
}

type argType struct {
	id    string
	parse func(string) (any, error)
}

func (t argType) ID() string                    { return t.id }
func (t argType) Parse(raw string) (any, error) { return t.parse(raw) }

// NewArgumentType adapts a parse function into an ArgumentType.
func NewArgumentType(id string, parse func(string) (any, error)) ArgumentType {
	return argType{id: id, parse: parse}
}

var (
	userMention    = regexp.MustCompile(`^<@!?(\d+)>$`)
	channelMention = regexp.MustCompile(`^<#(\d+)>$`)
	roleMention    = regexp.MustCompile(`^<@&(\d+)>$`)
	snowflake      = regexp.MustCompile(`^\d{5,20}$`)
)

func mentionType(id string, mention *regexp.Regexp) ArgumentType {
	return NewArgumentType(id, func(raw string) (any, error) {
		if m := mention.FindStringSubmatch(raw); m != nil {
			return m[1], nil
		}
		if snowflake.MatchString(raw) {
			return raw, nil
		}
		return nil, fmt.Errorf("%q is not a %s mention or ID", raw, id)
	})
}

// DefaultTypes returns the built-in argument types in registration order.
func DefaultTypes() []ArgumentType {
	return []ArgumentType{
		NewArgumentType("string", func(raw string) (any, error) {
			if strings.TrimSpace(raw) == "" {
				return nil, fmt.Errorf("empty string")
			}
			return raw, nil
		}),
		NewArgumentType("integer", func(raw string) (any, error) {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", raw)
			}
			return n, nil
		}),
		NewArgumentType("float", func(raw string) (any, error) {
			f, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", raw)
			}
			return f, nil
		}),
		NewArgumentType("boolean", func(raw string) (any, error) {
			switch strings.ToLower(raw) {
			case "true", "yes", "y", "on", "enable", "1":
				return true, nil
			case "false", "no", "n", "off", "disable", "0":
				return false, nil
			}
			return nil, fmt.Errorf("%q is not a boolean", raw)
		}),
		mentionType("user", userMention),
		mentionType("channel", channelMention),
		mentionType("role", roleMention),
	}
}
