package storage

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/crawlctl/internal/content"
	"github.com/JakeFAU/crawlctl/internal/crawler"
)

// WatermarkExpr is the change-detection timestamp of both native and feed
// rows.
const WatermarkExpr = "COALESCE(last_modify_ts, add_ts, 0)"

// Scanner is satisfied by pgx.Row(s) and *sql.Row(s).
type Scanner interface {
	Scan(dest ...any) error
}

// Placeholder renders the n-th (1-based) bind parameter.
type Placeholder func(n int) string

// Dollar renders Postgres style parameters ($1, $2, ...).
func Dollar(n int) string { return "$" + strconv.Itoa(n) }

// Question renders SQLite style parameters.
func Question(int) string { return "?" }

// NativeTable describes how to read one platform's crawler table.
type NativeTable struct {
	Platform crawler.Platform
	Name     string
	columns  []string
	scan     func(Scanner) (content.Record, error)
}

// bookkeeping columns lead every native select list.
var bookkeepingColumns = []string{
	"COALESCE(add_ts, 0)",
	"last_modify_ts",
}

// scanBookkeeping reads the bookkeeping columns ahead of rest, keeping a NULL
// last_modify_ts distinct from zero.
func scanBookkeeping(s Scanner, b *content.Bookkeeping, rest ...any) error {
	var modified sql.NullInt64
	dest := append([]any{&b.AddTS, &modified}, rest...)
	if err := s.Scan(dest...); err != nil {
		return err
	}
	b.LastModifyTS = nil
	if modified.Valid {
		*b = b.Modified(modified.Int64)
	}
	return nil
}

func text(col string) string {
	return fmt.Sprintf(`COALESCE(CAST(%s AS TEXT), '')`, col)
}

func integer(col string) string {
	return fmt.Sprintf("COALESCE(%s, 0)", col)
}

var nativeTables = map[crawler.Platform]NativeTable{
	crawler.PlatformXHS: {
		Platform: crawler.PlatformXHS,
		Name:     "xhs_note",
		columns: []string{
			text("note_id"), text("title"), text(`"desc"`), text("nickname"),
			text("note_url"), integer(`"time"`), text("ip_location"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.XhsNote
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.NoteID, &r.Title, &r.Desc, &r.Nickname,
				&r.NoteURL, &r.Time, &r.IPLocation, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformDouyin: {
		Platform: crawler.PlatformDouyin,
		Name:     "douyin_aweme",
		columns: []string{
			text("aweme_id"), text("title"), text(`"desc"`), text("nickname"),
			text("aweme_url"), integer("create_time"), text("ip_location"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.DouyinAweme
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.AwemeID, &r.Title, &r.Desc, &r.Nickname,
				&r.AwemeURL, &r.CreateTime, &r.IPLocation, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformKuaishou: {
		Platform: crawler.PlatformKuaishou,
		Name:     "kuaishou_video",
		columns: []string{
			text("video_id"), text("title"), text(`"desc"`), text("nickname"),
			text("video_url"), integer("create_time"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.KuaishouVideo
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.VideoID, &r.Title, &r.Desc, &r.Nickname,
				&r.VideoURL, &r.CreateTime, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformBilibili: {
		Platform: crawler.PlatformBilibili,
		Name:     "bilibili_video",
		columns: []string{
			text("video_id"), text("title"), text(`"desc"`), text("nickname"),
			text("video_url"), integer("create_time"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.BilibiliVideo
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.VideoID, &r.Title, &r.Desc, &r.Nickname,
				&r.VideoURL, &r.CreateTime, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformWeibo: {
		Platform: crawler.PlatformWeibo,
		Name:     "weibo_note",
		columns: []string{
			text("note_id"), text("content"), text("nickname"),
			text("note_url"), integer("create_time"), text("ip_location"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.WeiboNote
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.NoteID, &r.Content, &r.Nickname,
				&r.NoteURL, &r.CreateTime, &r.IPLocation, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformTieba: {
		Platform: crawler.PlatformTieba,
		Name:     "tieba_note",
		columns: []string{
			text("note_id"), text("title"), text(`"desc"`), text("user_nickname"),
			text("note_url"), text("publish_time"), text("ip_location"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.TiebaNote
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.NoteID, &r.Title, &r.Desc, &r.UserNickname,
				&r.NoteURL, &r.PublishTime, &r.IPLocation, &r.SourceKeyword)
			return r, err
		},
	},
	crawler.PlatformZhihu: {
		Platform: crawler.PlatformZhihu,
		Name:     "zhihu_content",
		columns: []string{
			text("content_id"), text("title"), text(`"desc"`), text("content_text"),
			text("user_nickname"), text("content_url"), text("created_time"), text("source_keyword"),
		},
		scan: func(s Scanner) (content.Record, error) {
			var r content.ZhihuContent
			err := scanBookkeeping(s, &r.Bookkeeping,
				&r.ContentID, &r.Title, &r.Desc, &r.ContentText,
				&r.UserNickname, &r.ContentURL, &r.CreatedTime, &r.SourceKeyword)
			return r, err
		},
	},
}

// NativeTableFor returns the table description for p.
func NativeTableFor(p crawler.Platform) (NativeTable, error) {
	t, ok := nativeTables[p]
	if !ok {
		return NativeTable{}, fmt.Errorf("%w: %q", crawler.ErrUnsupportedPlatform, p)
	}
	return t, nil
}

// SelectSQL returns the paged incremental select. Its parameters are cutoff,
// limit and offset. Rows with equal watermarks are ordered by id so offset
// paging is stable.
func (t NativeTable) SelectSQL(ph Placeholder) string {
	cols := append(append([]string(nil), bookkeepingColumns...), t.columns...)
	return fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s > %s ORDER BY %s ASC, id ASC LIMIT %s OFFSET %s",
		strings.Join(cols, ", "), t.Name, WatermarkExpr, ph(1), WatermarkExpr, ph(2), ph(3),
	)
}

// Scan reads one row produced by SelectSQL.
func (t NativeTable) Scan(s Scanner) (content.Record, error) {
	rec, err := t.scan(s)
	if err != nil {
		return nil, fmt.Errorf("scan %s row: %w", t.Name, err)
	}
	return rec, nil
}
