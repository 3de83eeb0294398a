// Package content maps the native records written by the external crawler,
// one shape per platform, onto the canonical content item stored in the feed.
package content

import "github.com/JakeFAU/crawlctl/internal/crawler"

// Record is a native crawler row. The set of implementations is closed: one
// struct per supported platform, each carrying only the fields the feed uses.
type Record interface {
	Platform() crawler.Platform
	// Watermark is coalesce(last_modify_ts, add_ts, 0) of the native row.
	Watermark() int64
	isRecord()
}

// Bookkeeping carries the timestamps every native table shares. A nil
// LastModifyTS is a NULL column.
type Bookkeeping struct {
	AddTS        int64
	LastModifyTS *int64
}

// Watermark returns LastModifyTS, falling back to AddTS only when it is NULL.
// A stored zero is returned as is.
func (b Bookkeeping) Watermark() int64 {
	if b.LastModifyTS != nil {
		return *b.LastModifyTS
	}
	return b.AddTS
}

// Modified returns b with LastModifyTS set to ts.
func (b Bookkeeping) Modified(ts int64) Bookkeeping {
	b.LastModifyTS = &ts
	return b
}

// XhsNote is a row of xhs_note.
type XhsNote struct {
	Bookkeeping
	NoteID        string
	Title         string
	Desc          string
	Nickname      string
	NoteURL       string
	Time          int64
	IPLocation    string
	SourceKeyword string
}

// DouyinAweme is a row of douyin_aweme.
type DouyinAweme struct {
	Bookkeeping
	AwemeID       string
	Title         string
	Desc          string
	Nickname      string
	AwemeURL      string
	CreateTime    int64
	IPLocation    string
	SourceKeyword string
}

// KuaishouVideo is a row of kuaishou_video.
type KuaishouVideo struct {
	Bookkeeping
	VideoID       string
	Title         string
	Desc          string
	Nickname      string
	VideoURL      string
	CreateTime    int64
	SourceKeyword string
}

// BilibiliVideo is a row of bilibili_video.
type BilibiliVideo struct {
	Bookkeeping
	VideoID       string
	Title         string
	Desc          string
	Nickname      string
	VideoURL      string
	CreateTime    int64
	SourceKeyword string
}

// WeiboNote is a row of weibo_note.
type WeiboNote struct {
	Bookkeeping
	NoteID        string
	Content       string
	Nickname      string
	NoteURL       string
	CreateTime    int64
	IPLocation    string
	SourceKeyword string
}

// TiebaNote is a row of tieba_note. PublishTime is free text in the source
// table.
type TiebaNote struct {
	Bookkeeping
	NoteID        string
	Title         string
	Desc          string
	UserNickname  string
	NoteURL       string
	PublishTime   string
	IPLocation    string
	SourceKeyword string
}

// ZhihuContent is a row of zhihu_content. CreatedTime is free text in the
// source table.
type ZhihuContent struct {
	Bookkeeping
	ContentID     string
	Title         string
	Desc          string
	ContentText   string
	UserNickname  string
	ContentURL    string
	CreatedTime   string
	SourceKeyword string
}

func (XhsNote) Platform() crawler.Platform       { return crawler.PlatformXHS }
func (DouyinAweme) Platform() crawler.Platform   { return crawler.PlatformDouyin }
func (KuaishouVideo) Platform() crawler.Platform { return crawler.PlatformKuaishou }
func (BilibiliVideo) Platform() crawler.Platform { return crawler.PlatformBilibili }
func (WeiboNote) Platform() crawler.Platform     { return crawler.PlatformWeibo }
func (TiebaNote) Platform() crawler.Platform     { return crawler.PlatformTieba }
func (ZhihuContent) Platform() crawler.Platform  { return crawler.PlatformZhihu }

func (XhsNote) isRecord()       {}
func (DouyinAweme) isRecord()   {}
func (KuaishouVideo) isRecord() {}
func (BilibiliVideo) isRecord() {}
func (WeiboNote) isRecord()     {}
func (TiebaNote) isRecord()     {}
func (ZhihuContent) isRecord()  {}
