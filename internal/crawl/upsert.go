package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/birnbaum/racist-comment-generator/internal/graph"
	"github.com/birnbaum/racist-comment-generator/internal/model"
	"github.com/birnbaum/racist-comment-generator/internal/repository"
	"github.com/birnbaum/racist-comment-generator/internal/sanitize"
)

// InsertOutcome はコメント挿入試行の結果を表す。
type InsertOutcome int

const (
	// OutcomeInserted は新規レコードが挿入されたことを示す。
	OutcomeInserted InsertOutcome = iota
	// OutcomeDuplicate は一意制約により挿入がスキップされたことを示す。
	// エラーではなく正常系として扱い、呼び出し側はカウンタを進めず再帰もしない。
	OutcomeDuplicate
	// OutcomeDiscarded はサニタイズ後のメッセージが空で破棄されたことを示す。
	OutcomeDiscarded
)

// EntityUpserter はユーザーの解決と投稿・コメントの冪等な挿入を提供する。
// リモートIDが唯一の冪等キーであり、重複はストアの一意制約で検出する。
type EntityUpserter struct {
	userRepo    repository.UserRepository
	postRepo    repository.PostRepository
	commentRepo repository.CommentRepository
	sanitizer   sanitize.MessageSanitizerService
	logger      *slog.Logger
}

// NewEntityUpserter はEntityUpserterの新しいインスタンスを生成する。
func NewEntityUpserter(
	userRepo repository.UserRepository,
	postRepo repository.PostRepository,
	commentRepo repository.CommentRepository,
	sanitizer sanitize.MessageSanitizerService,
	logger *slog.Logger,
) *EntityUpserter {
	return &EntityUpserter{
		userRepo:    userRepo,
		postRepo:    postRepo,
		commentRepo: commentRepo,
		sanitizer:   sanitizer,
		logger:      logger,
	}
}

// ResolveOrCreateUser は投稿者のユーザーレコードを解決し、内部IDを返す。
// 未知のremote_idの場合は新規作成する。lookup-then-insertは原子的でないため、
// 挿入が一意制約に弾かれた場合は再検索にフォールバックする（insert-or-get）。
func (u *EntityUpserter) ResolveOrCreateUser(ctx context.Context, author *graph.Author) (string, error) {
	existing, err := u.userRepo.FindByRemoteID(ctx, author.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}

	user := &model.User{
		ID:        uuid.New().String(),
		RemoteID:  author.ID,
		Name:      author.Name,
		CreatedAt: time.Now(),
	}
	if err := u.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrDuplicateEntity) {
			raced, findErr := u.userRepo.FindByRemoteID(ctx, author.ID)
			if findErr != nil {
				return "", findErr
			}
			if raced == nil {
				return "", fmt.Errorf("user %q vanished after duplicate insert", author.ID)
			}
			return raced.ID, nil
		}
		return "", err
	}

	return user.ID, nil
}

// InsertPost は投稿の挿入を試みる。既知の投稿は (false, nil) で報告する。
func (u *EntityUpserter) InsertPost(ctx context.Context, page *model.Page, rec *graph.Post) (bool, error) {
	if rec.ID == "" {
		return false, &model.MalformedRecordError{Relation: "posts", Field: "id"}
	}
	if rec.CreatedTime.IsZero() {
		return false, &model.MalformedRecordError{Relation: "posts", RemoteID: rec.ID, Field: "created_time"}
	}

	post := &model.Post{
		ID:          uuid.New().String(),
		PageID:      page.ID,
		RemoteID:    rec.ID,
		CreatedTime: rec.CreatedTime.Time,
		Story:       rec.Story,
		Message:     rec.Message,
		CreatedAt:   time.Now(),
	}

	if err := u.postRepo.Create(ctx, post); err != nil {
		if errors.Is(err, model.ErrDuplicateEntity) {
			u.logger.Debug("post already known",
				slog.String("post_remote_id", rec.ID),
			)
			return false, nil
		}
		return false, err
	}

	return true, nil
}

// InsertComment はコメントの挿入を試みる。parentCommentIDが空でない場合は
// サブコメントとして親と同じ投稿の下に挿入する。
// 投稿者のユーザーレコードはサニタイズより先に解決されるため、破棄された
// コメントの投稿者もユーザーテーブルには残る。
func (u *EntityUpserter) InsertComment(
	ctx context.Context,
	post *model.Post,
	rec *graph.Comment,
	parentCommentID string,
) (*model.Comment, InsertOutcome, error) {
	if rec.ID == "" {
		return nil, 0, &model.MalformedRecordError{Relation: "comments", Field: "id"}
	}
	if rec.From == nil {
		return nil, 0, &model.MalformedRecordError{Relation: "comments", RemoteID: rec.ID, Field: "from"}
	}
	if rec.CreatedTime.IsZero() {
		return nil, 0, &model.MalformedRecordError{Relation: "comments", RemoteID: rec.ID, Field: "created_time"}
	}

	userID, err := u.ResolveOrCreateUser(ctx, rec.From)
	if err != nil {
		return nil, 0, err
	}

	message := u.sanitizer.Sanitize(rec)
	if message == "" {
		u.logger.Debug("comment discarded by sanitizer",
			slog.String("comment_remote_id", rec.ID),
			slog.String("post_remote_id", post.RemoteID),
		)
		return nil, OutcomeDiscarded, nil
	}

	comment := &model.Comment{
		ID:              uuid.New().String(),
		UserID:          userID,
		PostID:          post.ID,
		PageID:          post.PageID,
		ParentCommentID: parentCommentID,
		RemoteID:        rec.ID,
		CreatedTime:     rec.CreatedTime.Time,
		Message:         message,
		LikeCount:       rec.LikeCount,
		CommentCount:    rec.CommentCount,
		CreatedAt:       time.Now(),
	}

	if err := u.commentRepo.Create(ctx, comment); err != nil {
		if errors.Is(err, model.ErrDuplicateEntity) {
			u.logger.Debug("comment already known",
				slog.String("comment_remote_id", rec.ID),
				slog.String("post_remote_id", post.RemoteID),
			)
			return nil, OutcomeDuplicate, nil
		}
		return nil, 0, err
	}

	return comment, OutcomeInserted, nil
}
