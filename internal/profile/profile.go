// Package profile assembles item and user profiles from the evidence
// channels: title, cover caption, frame captions, and comments.
//
// A profile is plain text with one line per piece of evidence, always in the
// order Title, Cover, Frame_1..Frame_k, Comment_1..Comment_k:
//
//	Title: Sunset timelapse
//	Cover: a beach at sunset
//	Frame_1: waves on the sand
//	Comment_1: beautiful
//
// Missing images and failed captions leave their section out and are logged.
// They never fail the build.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/knoguchi/rerankeval/internal/dataset"
	"github.com/knoguchi/rerankeval/internal/repository"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the default number of profiles built in parallel by BuildAll.
const DefaultConcurrency = 4

// MediaSource locates item images.
type MediaSource interface {
	HasCovers() bool
	HasFrames() bool
	CoverPath(itemID int64) (string, bool)
	FramePath(itemID int64, i int) (string, bool)
}

// ImageCaptioner captions an image file.
type ImageCaptioner interface {
	CaptionFile(ctx context.Context, path string) (string, error)
}

// Context carries per-request information for a profile build.
type Context struct {
	// UserID selects the comments shown for an item.
	UserID int64
}

// Builder builds profiles. It only reads from its collaborators and is safe
// for concurrent use.
type Builder struct {
	data        repository.Dataset
	media       MediaSource
	captioner   ImageCaptioner
	maxWords    int
	concurrency int
	logger      *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMedia sets the image source for the cover and frames channels.
func WithMedia(m MediaSource) Option {
	return func(b *Builder) {
		b.media = m
	}
}

// WithCaptioner sets the captioner for the cover and frames channels.
func WithCaptioner(c ImageCaptioner) Option {
	return func(b *Builder) {
		b.captioner = c
	}
}

// WithMaxWords caps every profile at n words. Zero disables the cap.
func WithMaxWords(n int) Option {
	return func(b *Builder) {
		b.maxWords = n
	}
}

// WithConcurrency bounds the parallelism of BuildAll.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		b.concurrency = n
	}
}

// WithLogger sets the logger for degradation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates a profile builder over the dataset.
func NewBuilder(data repository.Dataset, opts ...Option) *Builder {
	b := &Builder{
		data:        data,
		media:       dataset.Media{},
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency <= 0 {
		b.concurrency = 1
	}
	return b
}

// Available returns the subset of channels whose data source was provided.
func (b *Builder) Available(channels Channel) Channel {
	avail := Title
	if b.captioner != nil && b.media.HasCovers() {
		avail |= Cover
	}
	if b.captioner != nil && b.media.HasFrames() {
		avail |= Frames
	}
	if b.data.HasComments() {
		avail |= Comments
	}
	return channels & avail
}

// Build returns the profile of a catalog item. It fails only for unknown
// items and cancelled contexts.
func (b *Builder) Build(ctx context.Context, itemID int64, channels Channel, pc Context) (string, error) {
	if !b.data.IsValidItem(itemID) {
		return "", fmt.Errorf("item %d: %w", itemID, repository.ErrUnknownItem)
	}
	channels = b.Available(channels)

	sections := []Section{
		b.titleSection(itemID, channels),
		b.coverSection(ctx, itemID, channels),
		b.frameSection(ctx, itemID, channels),
		b.commentSection(itemID, channels, pc),
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, s := range sections {
		if s.OK() {
			s.writeTo(&sb)
		}
	}
	return Truncate(sb.String(), b.maxWords), nil
}

// BuildAll builds the profiles of ids in parallel. Results are in input order.
func (b *Builder) BuildAll(ctx context.Context, ids []int64, channels Channel, pc Context) ([]string, error) {
	out := make([]string, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)

	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			p, err := b.Build(gctx, id, channels, pc)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) titleSection(itemID int64, channels Channel) Section {
	if !channels.Has(Title) {
		return Absent
	}
	title, err := b.data.Title(itemID)
	if err != nil {
		b.logger.Warn("title unavailable", "item_id", itemID, "channel", "title", "error", err)
		return Absent
	}
	return Present("Title: " + title)
}

func (b *Builder) coverSection(ctx context.Context, itemID int64, channels Channel) Section {
	if !channels.Has(Cover) {
		return Absent
	}
	path, ok := b.media.CoverPath(itemID)
	if !ok {
		b.logger.Warn("cover not found", "item_id", itemID, "channel", "cover", "path", path)
		return Absent
	}
	text, err := b.captioner.CaptionFile(ctx, path)
	if err != nil {
		b.logCaptionFailure(ctx, itemID, "cover", path, err)
		return Absent
	}
	return Present("Cover: " + text)
}

func (b *Builder) frameSection(ctx context.Context, itemID int64, channels Channel) Section {
	if !channels.Has(Frames) {
		return Absent
	}
	var lines []string
	for i := 1; i <= dataset.MaxFrames; i++ {
		path, ok := b.media.FramePath(itemID, i)
		if !ok {
			continue
		}
		text, err := b.captioner.CaptionFile(ctx, path)
		if err != nil {
			b.logCaptionFailure(ctx, itemID, "frames", path, err)
			continue
		}
		lines = append(lines, fmt.Sprintf("Frame_%d: %s", len(lines)+1, text))
	}
	if len(lines) == 0 {
		b.logger.Warn("no frames", "item_id", itemID, "channel", "frames")
		return Absent
	}
	return Present(lines...)
}

func (b *Builder) commentSection(itemID int64, channels Channel, pc Context) Section {
	if !channels.Has(Comments) {
		return Absent
	}
	comments := b.data.Comments(pc.UserID, itemID)
	lines := make([]string, len(comments))
	for i, c := range comments {
		lines[i] = fmt.Sprintf("Comment_%d: %s", i+1, c)
	}
	return Present(lines...)
}

func (b *Builder) logCaptionFailure(ctx context.Context, itemID int64, channel, path string, err error) {
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return
	}
	b.logger.Warn("caption failed", "item_id", itemID, "channel", channel, "path", path, "error", err)
}

// UserProfile summarizes the user's recent history, skipping the held-out
// interactions. With only the title channel it is one "<title>." line per
// item; otherwise the item profiles separated by blank lines. Items without
// any evidence are skipped.
func (b *Builder) UserProfile(ctx context.Context, userID int64, historyLen int, channels Channel) (string, error) {
	items, err := b.data.RecentItems(userID, historyLen)
	if err != nil {
		return "", err
	}

	channels = b.Available(channels)
	if channels&^Title == 0 {
		var sb strings.Builder
		for _, item := range items {
			title, err := b.data.Title(item)
			if err != nil {
				b.logger.Warn("history item without title", "user_id", userID, "item_id", item, "error", err)
				continue
			}
			sb.WriteString(title)
			sb.WriteString(".\n")
		}
		return Truncate(sb.String(), b.maxWords), nil
	}

	profiles, err := b.BuildAll(ctx, items, channels, Context{UserID: userID})
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Truncate(strings.Join(parts, "\n"), b.maxWords), nil
}

// Truncate keeps the first maxWords words of s. Line breaks inside the kept
// prefix are preserved. maxWords <= 0 returns s unchanged.
func Truncate(s string, maxWords int) string {
	if maxWords <= 0 {
		return s
	}
	words := 0
	inWord := false
	for i, r := range s {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !space && !inWord {
			words++
			if words > maxWords {
				return strings.TrimRight(s[:i], " \t\r")
			}
		}
		inWord = !space
	}
	return s
}
