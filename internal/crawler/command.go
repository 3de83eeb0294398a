package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// CommandConfig describes how the external crawler is launched.
type CommandConfig struct {
	// Argv is the program and leading arguments, e.g. ["python3", "main.py"].
	Argv    []string
	WorkDir string
	DataDir string
	Env     []string
}

// CommandBuilder turns a CrawlRequest into the per-platform command line of
// the external crawler.
type CommandBuilder struct {
	cfg     CommandConfig
	cookies CookieSource
}

// NewCommandBuilder validates cfg and returns a builder. cookies may be nil.
func NewCommandBuilder(cfg CommandConfig, cookies CookieSource) (*CommandBuilder, error) {
	if len(cfg.Argv) == 0 || cfg.Argv[0] == "" {
		return nil, errors.New("crawler command is required")
	}
	return &CommandBuilder{cfg: cfg, cookies: cookies}, nil
}

// Build resolves the command for one platform of req.
func (b *CommandBuilder) Build(ctx context.Context, platform Platform, req CrawlRequest) (Command, error) {
	if !platform.Valid() {
		return Command{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}
	args := append([]string(nil), b.cfg.Argv[1:]...)
	args = append(args,
		"--platform", string(platform),
		"--lt", string(req.LoginType),
		"--type", string(req.CrawlerType),
	)
	if b.cfg.DataDir != "" {
		args = append(args, "--save_data_path", b.cfg.DataDir)
	}
	if req.Keywords != "" {
		args = append(args, "--keywords", req.Keywords)
	}
	if req.SaveOption != "" {
		args = append(args, "--save_data_option", req.SaveOption)
	}
	if req.StartPage > 0 {
		args = append(args, "--start", strconv.Itoa(req.StartPage))
	}

	cookies := req.Cookies
	if cookies == "" && req.LoginType == LoginCookie && b.cookies != nil {
		resolved, err := b.cookies.Cookie(ctx, platform)
		if err != nil {
			return Command{}, fmt.Errorf("resolve cookie for %s: %w", platform, err)
		}
		cookies = resolved
	}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}
	if req.SpecifiedIDs != "" {
		args = append(args, "--specified_id", req.SpecifiedIDs)
	}
	if req.CreatorIDs != "" {
		args = append(args, "--creator_id", req.CreatorIDs)
	}
	args = append(args,
		"--get_comment", strconv.FormatBool(req.EnableComments),
		"--get_sub_comment", strconv.FormatBool(req.EnableSubComments),
		"--headless", strconv.FormatBool(req.Headless),
	)

	return Command{
		Path: b.cfg.Argv[0],
		Args: args,
		Dir:  b.cfg.WorkDir,
		Env:  append([]string(nil), b.cfg.Env...),
	}, nil
}

// StaticCookies is a CookieSource backed by a fixed platform -> cookie map,
// typically loaded from configuration.
type StaticCookies map[Platform]string

// Cookie returns the configured cookie for platform, or "" if none.
func (s StaticCookies) Cookie(_ context.Context, platform Platform) (string, error) {
	return s[platform], nil
}
