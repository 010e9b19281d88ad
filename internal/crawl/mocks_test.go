package crawl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/birnbaum/racist-comment-generator/internal/graph"
	"github.com/birnbaum/racist-comment-generator/internal/model"
	"github.com/birnbaum/racist-comment-generator/internal/repository"
)

// --- インメモリリポジトリ ---

type memPageRepo struct {
	pages []*model.Page
}

func (r *memPageRepo) FindByPath(_ context.Context, path string) (*model.Page, error) {
	for _, p := range r.pages {
		if p.Path == path {
			return p, nil
		}
	}
	return nil, nil
}

func (r *memPageRepo) Create(_ context.Context, page *model.Page) error {
	r.pages = append(r.pages, page)
	return nil
}

func (r *memPageRepo) List(_ context.Context) ([]*model.Page, error) {
	return r.pages, nil
}

type memPostRepo struct {
	posts []*model.Post
}

func (r *memPostRepo) Create(_ context.Context, post *model.Post) error {
	for _, p := range r.posts {
		if p.PageID == post.PageID && p.RemoteID == post.RemoteID {
			return model.ErrDuplicateEntity
		}
	}
	r.posts = append(r.posts, post)
	return nil
}

func (r *memPostRepo) LatestCreatedTime(_ context.Context, pageID string) (*time.Time, error) {
	var latest *time.Time
	for _, p := range r.posts {
		if p.PageID != pageID {
			continue
		}
		if latest == nil || p.CreatedTime.After(*latest) {
			t := p.CreatedTime
			latest = &t
		}
	}
	return latest, nil
}

func (r *memPostRepo) ListCrawlable(_ context.Context) ([]*model.Post, error) {
	var out []*model.Post
	for _, p := range r.posts {
		if !p.DoNotCrawl {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime.Before(out[j].CreatedTime) })
	return out, nil
}

func (r *memPostRepo) MarkDoNotCrawl(_ context.Context, postID string) error {
	for _, p := range r.posts {
		if p.ID == postID {
			p.DoNotCrawl = true
			return nil
		}
	}
	return fmt.Errorf("post %q not found", postID)
}

func (r *memPostRepo) find(remoteID string) *model.Post {
	for _, p := range r.posts {
		if p.RemoteID == remoteID {
			return p
		}
	}
	return nil
}

type memUserRepo struct {
	users []*model.User
}

func (r *memUserRepo) FindByRemoteID(_ context.Context, remoteID string) (*model.User, error) {
	for _, u := range r.users {
		if u.RemoteID == remoteID {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	for _, u := range r.users {
		if u.RemoteID == user.RemoteID {
			return model.ErrDuplicateEntity
		}
	}
	r.users = append(r.users, user)
	return nil
}

type memCommentRepo struct {
	comments []*model.Comment
}

func (r *memCommentRepo) Create(_ context.Context, comment *model.Comment) error {
	for _, c := range r.comments {
		if c.PostID == comment.PostID && c.RemoteID == comment.RemoteID {
			return model.ErrDuplicateEntity
		}
	}
	r.comments = append(r.comments, comment)
	return nil
}

func (r *memCommentRepo) LatestCreatedTime(_ context.Context, postID string) (*time.Time, error) {
	var latest *time.Time
	for _, c := range r.comments {
		if c.PostID != postID {
			continue
		}
		if latest == nil || c.CreatedTime.After(*latest) {
			t := c.CreatedTime
			latest = &t
		}
	}
	return latest, nil
}

func (r *memCommentRepo) find(remoteID string) *model.Comment {
	for _, c := range r.comments {
		if c.RemoteID == remoteID {
			return c
		}
	}
	return nil
}

var (
	_ repository.PageRepository    = (*memPageRepo)(nil)
	_ repository.PostRepository    = (*memPostRepo)(nil)
	_ repository.UserRepository    = (*memUserRepo)(nil)
	_ repository.CommentRepository = (*memCommentRepo)(nil)
)

// --- フェイクGraphソース ---

// fakeSource はリモートのpost/commentコレクションをメモリ上で模倣する。
// since/untilのウィンドウフィルタは実APIと同じ半開区間 [since, until) で適用する
// （sinceは境界を含むため、ウォーターマーク境界のレコードは再取得される）。
type fakeSource struct {
	objects  map[string]*graph.Object
	posts    map[string][]*graph.Post    // 親（ページ）のリモートIDがキー
	comments map[string][]*graph.Comment // 親（投稿またはコメント）のリモートIDがキー

	// commentFetches は親ごとのコメントフェッチ回数。返信展開の検証に使う。
	commentFetches map[string]int
	// commentOpts は親ごとに最後のコメントフェッチで渡されたオプションを記録する。
	commentOpts map[string]graph.ConnectionOptions
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		objects:        map[string]*graph.Object{},
		posts:          map[string][]*graph.Post{},
		comments:       map[string][]*graph.Comment{},
		commentFetches: map[string]int{},
		commentOpts:    map[string]graph.ConnectionOptions{},
	}
}

func (s *fakeSource) Object(_ context.Context, path string) (*graph.Object, error) {
	obj, ok := s.objects[path]
	if !ok {
		return nil, &graph.APIError{Message: "unknown object: " + path, Type: "GraphMethodException", Code: 100}
	}
	return obj, nil
}

func inWindow(t time.Time, opt graph.ConnectionOptions) bool {
	if opt.Since != nil && t.Before(*opt.Since) {
		return false
	}
	if opt.Until != nil && !t.Before(*opt.Until) {
		return false
	}
	return true
}

func (s *fakeSource) Posts(parentID string, opt graph.ConnectionOptions) graph.PostIterator {
	var recs []*graph.Post
	for _, p := range s.posts[parentID] {
		if inWindow(p.CreatedTime.Time, opt) {
			recs = append(recs, p)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedTime.Time.Before(recs[j].CreatedTime.Time)
	})
	return &slicePostIterator{recs: recs}
}

func (s *fakeSource) Comments(parentID string, opt graph.ConnectionOptions) graph.CommentIterator {
	s.commentFetches[parentID]++
	s.commentOpts[parentID] = opt
	var recs []*graph.Comment
	for _, c := range s.comments[parentID] {
		if inWindow(c.CreatedTime.Time, opt) {
			recs = append(recs, c)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedTime.Time.Before(recs[j].CreatedTime.Time)
	})
	return &sliceCommentIterator{recs: recs}
}

type slicePostIterator struct {
	recs []*graph.Post
	i    int
}

func (it *slicePostIterator) Next(_ context.Context) (*graph.Post, bool, error) {
	if it.i >= len(it.recs) {
		return nil, false, nil
	}
	rec := it.recs[it.i]
	it.i++
	return rec, true, nil
}

type sliceCommentIterator struct {
	recs []*graph.Comment
	i    int
}

func (it *sliceCommentIterator) Next(_ context.Context) (*graph.Comment, bool, error) {
	if it.i >= len(it.recs) {
		return nil, false, nil
	}
	rec := it.recs[it.i]
	it.i++
	return rec, true, nil
}

var _ GraphSource = (*fakeSource)(nil)

// --- メトリクスカウンタ ---

type countingMetrics struct {
	pagesDiscovered   int
	postsInserted     int
	postsDuplicate    int
	postsArchived     int
	commentsInserted  int
	repliesInserted   int
	commentsDuplicate int
	commentsDiscarded int
	runsRecorded      int
}

func (m *countingMetrics) RecordPageDiscovered() { m.pagesDiscovered++ }
func (m *countingMetrics) RecordPostInserted()   { m.postsInserted++ }
func (m *countingMetrics) RecordPostDuplicate()  { m.postsDuplicate++ }
func (m *countingMetrics) RecordPostArchived()   { m.postsArchived++ }
func (m *countingMetrics) RecordCommentInserted(reply bool) {
	if reply {
		m.repliesInserted++
	} else {
		m.commentsInserted++
	}
}
func (m *countingMetrics) RecordCommentDuplicate() { m.commentsDuplicate++ }
func (m *countingMetrics) RecordCommentDiscarded() { m.commentsDiscarded++ }
func (m *countingMetrics) RecordRunDuration(_ time.Duration) { m.runsRecorded++ }

var _ MetricsRecorder = (*countingMetrics)(nil)
