package content

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/crawlctl/internal/crawler"
)

// EmptyText is stored when a record carries no usable text at all.
const EmptyText = "暂无内容"

// ErrMissingContentID marks records that cannot be keyed and must be skipped.
var ErrMissingContentID = errors.New("record has no content id")

// Item is the platform independent projection of a native record.
type Item struct {
	Platform      crawler.Platform
	ContentID     string
	Text          string
	Author        string
	URL           string
	CreatedAt     int64
	SourceKeyword string
	IPLocation    string
}

// Normalizer converts native records into Items. Location is used for
// timestamps written without a zone.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer; a nil location means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize projects r. It returns ErrMissingContentID for rows without an id.
func (n *Normalizer) Normalize(r Record) (Item, error) {
	var item Item
	switch rec := r.(type) {
	case XhsNote:
		item = Item{
			ContentID:     rec.NoteID,
			Text:          joinText(rec.Title, rec.Desc),
			Author:        rec.Nickname,
			URL:           rec.NoteURL,
			CreatedAt:     MillisFromInt(rec.Time),
			SourceKeyword: rec.SourceKeyword,
			IPLocation:    rec.IPLocation,
		}
	case DouyinAweme:
		item = Item{
			ContentID:     rec.AwemeID,
			Text:          joinText(rec.Title, rec.Desc),
			Author:        rec.Nickname,
			URL:           rec.AwemeURL,
			CreatedAt:     MillisFromInt(rec.CreateTime),
			SourceKeyword: rec.SourceKeyword,
			IPLocation:    rec.IPLocation,
		}
	case KuaishouVideo:
		item = Item{
			ContentID:     rec.VideoID,
			Text:          joinText(rec.Title, rec.Desc),
			Author:        rec.Nickname,
			URL:           rec.VideoURL,
			CreatedAt:     MillisFromInt(rec.CreateTime),
			SourceKeyword: rec.SourceKeyword,
		}
	case BilibiliVideo:
		item = Item{
			ContentID:     rec.VideoID,
			Text:          joinText(rec.Title, rec.Desc),
			Author:        rec.Nickname,
			URL:           rec.VideoURL,
			CreatedAt:     MillisFromInt(rec.CreateTime),
			SourceKeyword: rec.SourceKeyword,
		}
	case WeiboNote:
		item = Item{
			ContentID:     rec.NoteID,
			Text:          joinText(rec.Content),
			Author:        rec.Nickname,
			URL:           rec.NoteURL,
			CreatedAt:     MillisFromInt(rec.CreateTime),
			SourceKeyword: rec.SourceKeyword,
			IPLocation:    rec.IPLocation,
		}
	case TiebaNote:
		item = Item{
			ContentID:     rec.NoteID,
			Text:          joinText(rec.Title, rec.Desc),
			Author:        rec.UserNickname,
			URL:           rec.NoteURL,
			CreatedAt:     ParseMillis(rec.PublishTime, n.loc),
			SourceKeyword: rec.SourceKeyword,
			IPLocation:    rec.IPLocation,
		}
	case ZhihuContent:
		item = Item{
			ContentID:     rec.ContentID,
			Text:          joinText(rec.Title, rec.Desc, rec.ContentText),
			Author:        rec.UserNickname,
			URL:           rec.ContentURL,
			CreatedAt:     ParseMillis(rec.CreatedTime, n.loc),
			SourceKeyword: rec.SourceKeyword,
		}
	case nil:
		return Item{}, errors.New("nil record")
	default:
		return Item{}, fmt.Errorf("unsupported record type %T", r)
	}

	item.Platform = r.Platform()
	item.ContentID = strings.TrimSpace(item.ContentID)
	if item.ContentID == "" {
		return Item{}, ErrMissingContentID
	}
	item.IPLocation = strings.TrimSpace(item.IPLocation)
	return item, nil
}

// joinText joins the non-blank parts with a single space, in order.
func joinText(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		kept = append(kept, p)
	}
	text := strings.TrimSpace(strings.Join(kept, " "))
	if text == "" {
		return EmptyText
	}
	return text
}
