// Package cleanup removes channel messages within Discord's bulk-delete rules.
package cleanup

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// BulkDeleteMaxAge is the oldest a message may be for bulk deletion.
const BulkDeleteMaxAge = 14 * 24 * time.Hour

const bulkChunkSize = 100

// Deleter is the part of *discordgo.Session used to delete messages.
type Deleter interface {
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelMessagesBulkDelete(channelID string, messages []string, options ...discordgo.RequestOption) error
}

// DeleteOptions configures deletion behavior.
type DeleteOptions struct {
	// Now overrides the clock used to age messages.
	Now           func() time.Time
	OnDeleteError func(messageID string, err error)
}

// Result counts the outcome of DeleteMessages.
type Result struct {
	Deleted int
	Failed  int
}

// DeleteMessages removes messages from a channel. Messages recent enough are
// bulk deleted in chunks of 100; older ones, and lone leftovers, one by one.
func DeleteMessages(d Deleter, channelID string, messageIDs []string, opts DeleteOptions) Result {
	if d == nil || channelID == "" || len(messageIDs) == 0 {
		return Result{}
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	cutoff := now().Add(-BulkDeleteMaxAge)

	var recent, old []string
	for _, id := range messageIDs {
		if id == "" {
			continue
		}
		ts, err := discordgo.SnowflakeTimestamp(id)
		if err != nil || !ts.After(cutoff) {
			old = append(old, id)
			continue
		}
		recent = append(recent, id)
	}

	var res Result
	for _, chunk := range chunkStrings(recent, bulkChunkSize) {
		if len(chunk) == 1 {
			old = append(old, chunk[0])
			continue
		}
		if err := d.ChannelMessagesBulkDelete(channelID, chunk); err != nil {
			res.Failed += len(chunk)
			report(opts.OnDeleteError, chunk, err)
			continue
		}
		res.Deleted += len(chunk)
	}
	for _, id := range old {
		if err := d.ChannelMessageDelete(channelID, id); err != nil {
			res.Failed++
			report(opts.OnDeleteError, []string{id}, err)
			continue
		}
		res.Deleted++
	}
	return res
}

func report(fn func(string, error), ids []string, err error) {
	if fn == nil {
		return
	}
	for _, id := range ids {
		fn(id, err)
	}
}

func chunkStrings(values []string, size int) [][]string {
	if size <= 0 {
		return nil
	}
	var out [][]string
	for len(values) > 0 {
		if len(values) <= size {
			out = append(out, values)
			break
		}
		out = append(out, values[:size])
		values = values[size:]
	}
	return out
}
