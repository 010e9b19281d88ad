package crawl

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/graph"
	"github.com/birnbaum/racist-comment-generator/internal/model"
	"github.com/birnbaum/racist-comment-generator/internal/sanitize"
)

type crawlerFixture struct {
	source      *fakeSource
	pageRepo    *memPageRepo
	postRepo    *memPostRepo
	userRepo    *memUserRepo
	commentRepo *memCommentRepo
	metrics     *countingMetrics
	crawler     *Crawler
}

func newCrawlerFixture(pagePaths []string, retention time.Duration) *crawlerFixture {
	f := &crawlerFixture{
		source:      newFakeSource(),
		pageRepo:    &memPageRepo{},
		postRepo:    &memPostRepo{},
		userRepo:    &memUserRepo{},
		commentRepo: &memCommentRepo{},
		metrics:     &countingMetrics{},
	}

	logger := slog.New(slog.DiscardHandler)
	sanitizer := sanitize.NewMessageSanitizer(sanitize.DefaultExcludedHashtag)
	startDate := time.Now().AddDate(-1, 0, 0)
	watermarks := NewWatermarkResolver(f.postRepo, f.commentRepo, startDate)
	upserter := NewEntityUpserter(f.userRepo, f.postRepo, f.commentRepo, sanitizer, logger)

	f.crawler = NewCrawler(
		Config{
			PagePaths:       pagePaths,
			PostPageSize:    100,
			CommentPageSize: 100,
			ReplyPageSize:   500,
			Retention:       retention,
		},
		f.source, f.pageRepo, f.postRepo, watermarks, upserter, f.metrics, logger,
	)
	return f
}

func author(id, name string) *graph.Author {
	return &graph.Author{ID: id, Name: name}
}

func TestRunFullCrawl(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_old", CreatedTime: graphTime(now.AddDate(0, 0, -40)), Message: "altes Posting"},
		{ID: "P1_new", CreatedTime: graphTime(now.AddDate(0, 0, -3)), Message: "neues Posting"},
	}
	f.source.comments["P1_old"] = []*graph.Comment{
		{ID: "C1", Message: "erster Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -39)), CommentCount: 1},
	}
	// C1の返信。comment_count > 0 のコメントだけが展開される。
	f.source.comments["C1"] = []*graph.Comment{
		{ID: "R1", Message: "eine Antwort", From: author("U2", "Ben"),
			CreatedTime: graphTime(now.AddDate(0, 0, -38))},
	}
	f.source.comments["P1_new"] = []*graph.Comment{
		{ID: "C2", Message: "noch ein Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -2))},
		{ID: "C3", Message: "getaggt", From: author("U3", "Cara"),
			CreatedTime: graphTime(now.AddDate(0, 0, -2)),
			MessageTags: []graph.MessageTag{{ID: "U1", Name: "Anna", Type: "user"}}},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// ページが登録されている
	if len(f.pageRepo.pages) != 1 || f.pageRepo.pages[0].RemoteID != "P1" {
		t.Fatalf("pages = %+v", f.pageRepo.pages)
	}

	// 両方の投稿が保存されている
	if len(f.postRepo.posts) != 2 {
		t.Fatalf("post count = %d, want 2", len(f.postRepo.posts))
	}

	// コメント: C1, R1, C2（C3はmessage_tagsで破棄）
	if len(f.commentRepo.comments) != 3 {
		t.Fatalf("comment count = %d, want 3: %+v", len(f.commentRepo.comments), f.commentRepo.comments)
	}

	// 返信は親コメントと同じ投稿の下にぶら下がる
	parent := f.commentRepo.find("C1")
	reply := f.commentRepo.find("R1")
	if parent == nil || reply == nil {
		t.Fatal("expected comments C1 and R1 to be persisted")
	}
	if reply.ParentCommentID != parent.ID {
		t.Errorf("reply ParentCommentID = %q, want %q", reply.ParentCommentID, parent.ID)
	}
	if reply.PostID != parent.PostID {
		t.Errorf("reply PostID = %q, want %q", reply.PostID, parent.PostID)
	}
	if parent.ParentCommentID != "" {
		t.Errorf("top-level comment has ParentCommentID %q", parent.ParentCommentID)
	}

	// 投稿者ユーザー: Anna, Ben, Cara（破棄されたC3の投稿者も作成される）
	if len(f.userRepo.users) != 3 {
		t.Errorf("user count = %d, want 3", len(f.userRepo.users))
	}

	// 保持期間より古い投稿のみアーカイブされる
	oldPost := f.postRepo.find("P1_old")
	newPost := f.postRepo.find("P1_new")
	if !oldPost.DoNotCrawl {
		t.Error("old post should be archived")
	}
	if newPost.DoNotCrawl {
		t.Error("recent post should stay crawlable")
	}

	// メトリクス
	if f.metrics.pagesDiscovered != 1 {
		t.Errorf("pagesDiscovered = %d", f.metrics.pagesDiscovered)
	}
	if f.metrics.postsInserted != 2 {
		t.Errorf("postsInserted = %d", f.metrics.postsInserted)
	}
	if f.metrics.commentsInserted != 2 || f.metrics.repliesInserted != 1 {
		t.Errorf("commentsInserted = %d, repliesInserted = %d",
			f.metrics.commentsInserted, f.metrics.repliesInserted)
	}
	if f.metrics.commentsDiscarded != 1 {
		t.Errorf("commentsDiscarded = %d", f.metrics.commentsDiscarded)
	}
	if f.metrics.postsArchived != 1 {
		t.Errorf("postsArchived = %d", f.metrics.postsArchived)
	}
	if f.metrics.runsRecorded != 1 {
		t.Errorf("runsRecorded = %d", f.metrics.runsRecorded)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -5)), Message: "Posting"},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		{ID: "C1", Message: "Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -4))},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	// 2回目のランで重複が生まれない
	if len(f.pageRepo.pages) != 1 {
		t.Errorf("page count = %d, want 1", len(f.pageRepo.pages))
	}
	if len(f.postRepo.posts) != 1 {
		t.Errorf("post count = %d, want 1", len(f.postRepo.posts))
	}
	if len(f.commentRepo.comments) != 1 {
		t.Errorf("comment count = %d, want 1", len(f.commentRepo.comments))
	}
	if len(f.userRepo.users) != 1 {
		t.Errorf("user count = %d, want 1", len(f.userRepo.users))
	}

	// ウォーターマーク境界のレコードは再取得され、重複として数えられる
	if f.metrics.commentsDuplicate == 0 {
		t.Error("expected duplicate comments to be recorded on second run")
	}
}

func TestRunDoesNotRecurseIntoReplies(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -5))},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		{ID: "C1", Message: "Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -4)), CommentCount: 1},
	}
	// 返信自身がcomment_count > 0 を報告しても、返信の返信はフェッチしない
	f.source.comments["C1"] = []*graph.Comment{
		{ID: "R1", Message: "Antwort", From: author("U2", "Ben"),
			CreatedTime: graphTime(now.AddDate(0, 0, -3)), CommentCount: 5},
	}
	f.source.comments["R1"] = []*graph.Comment{
		{ID: "RR1", Message: "verschachtelt", From: author("U3", "Cara"),
			CreatedTime: graphTime(now.AddDate(0, 0, -2))},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if f.commentRepo.find("RR1") != nil {
		t.Error("nested reply should not be persisted")
	}
	if f.source.commentFetches["R1"] != 0 {
		t.Errorf("replies of a reply were fetched %d times", f.source.commentFetches["R1"])
	}
}

func TestRunSkipsReplyExpansionWithoutReplies(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -5))},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		{ID: "C1", Message: "Kommentar ohne Antworten", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -4)), CommentCount: 0},
	}
	f.source.comments["C1"] = []*graph.Comment{
		{ID: "R1", Message: "sollte nie geholt werden", From: author("U2", "Ben"),
			CreatedTime: graphTime(now.AddDate(0, 0, -3))},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// comment_count = 0 のコメントは返信フェッチを発行しない
	if f.source.commentFetches["C1"] != 0 {
		t.Errorf("replies fetched %d times for comment_count=0", f.source.commentFetches["C1"])
	}
}

func TestRunSkipsArchivedPosts(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -40))},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		{ID: "C1", Message: "Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -39))},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if !f.postRepo.find("P1_1").DoNotCrawl {
		t.Fatal("post should be archived after first run")
	}

	fetchesAfterFirstRun := f.source.commentFetches["P1_1"]

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	// アーカイブ済み投稿のコメントは二度とフェッチされない
	if f.source.commentFetches["P1_1"] != fetchesAfterFirstRun {
		t.Errorf("archived post comments were fetched again: %d -> %d",
			fetchesAfterFirstRun, f.source.commentFetches["P1_1"])
	}
	if f.metrics.postsArchived != 1 {
		t.Errorf("postsArchived = %d, want 1", f.metrics.postsArchived)
	}
}

func TestRunArchivalThresholdBoundary(t *testing.T) {
	retention := 30 * 24 * time.Hour
	f := newCrawlerFixture([]string{"somepage"}, retention)

	// ランの基準時刻を固定して、しきい値ちょうどの投稿を決定的に作る
	fixed := time.Now().Truncate(time.Second)
	f.crawler.now = func() time.Time { return fixed }

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_at", CreatedTime: graphTime(fixed.Add(-retention)), Message: "genau an der Grenze"},
		{ID: "P1_past", CreatedTime: graphTime(fixed.Add(-retention - time.Second)), Message: "eine Sekunde älter"},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// しきい値ちょうど（created_time == runStart - retention）はクロール対象のまま
	if f.postRepo.find("P1_at").DoNotCrawl {
		t.Error("post exactly at the retention threshold must stay crawlable")
	}
	// しきい値より厳密に古い投稿だけがアーカイブされる
	if !f.postRepo.find("P1_past").DoNotCrawl {
		t.Error("post strictly older than the retention threshold should be archived")
	}
	if f.metrics.postsArchived != 1 {
		t.Errorf("postsArchived = %d, want 1", f.metrics.postsArchived)
	}
}

func TestRunFetchesRepliesChronologically(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -5))},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		{ID: "C1", Message: "Kommentar", From: author("U1", "Anna"),
			CreatedTime: graphTime(now.AddDate(0, 0, -4)), CommentCount: 1},
	}
	f.source.comments["C1"] = []*graph.Comment{
		{ID: "R1", Message: "Antwort", From: author("U2", "Ben"),
			CreatedTime: graphTime(now.AddDate(0, 0, -3))},
	}

	if err := f.crawler.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	opts, ok := f.source.commentOpts["C1"]
	if !ok {
		t.Fatal("no reply fetch recorded for C1")
	}
	// 返信も古い順でフェッチされ、ウィンドウの下限は持たない
	if opts.Order != "chronological" {
		t.Errorf("reply fetch order = %q, want chronological", opts.Order)
	}
	if opts.Since != nil {
		t.Errorf("reply fetch since = %v, want nil", opts.Since)
	}
}

func TestRunAbortsOnMalformedComment(t *testing.T) {
	f := newCrawlerFixture([]string{"somepage"}, 30*24*time.Hour)
	now := time.Now()

	f.source.objects["somepage"] = &graph.Object{ID: "P1", Name: "Some Page"}
	f.source.posts["P1"] = []*graph.Post{
		{ID: "P1_1", CreatedTime: graphTime(now.AddDate(0, 0, -40))},
	}
	f.source.comments["P1_1"] = []*graph.Comment{
		// fromが欠けた不正レコード
		{ID: "C1", Message: "kaputt", CreatedTime: graphTime(now.AddDate(0, 0, -39))},
	}

	err := f.crawler.Run(context.Background())
	var malformed *model.MalformedRecordError
	if !errors.As(err, &malformed) {
		t.Fatalf("Run() error = %v, want MalformedRecordError", err)
	}

	// ランが中断されたため投稿はアーカイブされない
	if f.postRepo.find("P1_1").DoNotCrawl {
		t.Error("post must not be archived when comment sync aborts")
	}
}

func TestRunUnknownPageFails(t *testing.T) {
	f := newCrawlerFixture([]string{"missing-page"}, 30*24*time.Hour)

	err := f.crawler.Run(context.Background())
	var apiErr *graph.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Run() error = %v, want APIError", err)
	}
}
