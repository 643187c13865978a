package store

import (
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/chatterbox/internal/remote"
)

type kind int

const (
	kindText kind = iota
	kindBool
	kindInt
	kindTime
)

// columns lists the tables reachable through the generic operations and
// the type of each column. Anything not listed is rejected.
var columns = map[string]map[string]kind{
	remote.TableProfiles: {
		"id":         kindText,
		"username":   kindText,
		"avatar_url": kindText,
		"created_at": kindTime,
	},
	remote.TableConversations: {
		"id":                kindText,
		"created_at":        kindTime,
		"updated_at":        kindTime,
		"last_message":      kindText,
		"last_message_time": kindTime,
	},
	remote.TableParticipants: {
		"id":              kindText,
		"conversation_id": kindText,
		"profile_id":      kindText,
		"created_at":      kindTime,
	},
	remote.TableMessages: {
		"seq":             kindInt,
		"id":              kindText,
		"conversation_id": kindText,
		"profile_id":      kindText,
		"content":         kindText,
		"created_at":      kindTime,
		"is_received":     kindBool,
		"received_at":     kindTime,
		"is_delivered":    kindBool,
		"delivered_at":    kindTime,
		"is_read":         kindBool,
		"read_at":         kindTime,
	},
}

func checkColumn(table, column string) error {
	cols, ok := columns[table]
	if !ok {
		return fmt.Errorf("unknown table %q", table)
	}
	if _, ok := cols[column]; !ok {
		return fmt.Errorf("unknown column %s.%s", table, column)
	}
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// normalize converts driver values into the types every backend agrees
// on: strings, bools, int64 and UTC times.
func normalize(table string, raw map[string]any) (remote.Row, error) {
	cols := columns[table]
	row := make(remote.Row, len(raw))
	for col, v := range raw {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		if v == nil {
			row[col] = nil
			continue
		}
		switch cols[col] {
		case kindBool:
			switch x := v.(type) {
			case bool:
				row[col] = x
			case int64:
				row[col] = x != 0
			case string:
				b, err := strconv.ParseBool(x)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", table, col, err)
				}
				row[col] = b
			default:
				return nil, fmt.Errorf("%s.%s: unexpected %T", table, col, v)
			}
		case kindInt:
			switch x := v.(type) {
			case int64:
				row[col] = x
			case float64:
				row[col] = int64(x)
			case string:
				n, err := strconv.ParseInt(x, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", table, col, err)
				}
				row[col] = n
			default:
				return nil, fmt.Errorf("%s.%s: unexpected %T", table, col, v)
			}
		case kindTime:
			switch x := v.(type) {
			case time.Time:
				row[col] = x.UTC()
			case string:
				t, err := parseTime(x)
				if err != nil {
					return nil, fmt.Errorf("%s.%s: %w", table, col, err)
				}
				row[col] = t
			default:
				return nil, fmt.Errorf("%s.%s: unexpected %T", table, col, v)
			}
		default:
			row[col] = v
		}
	}
	return row, nil
}
