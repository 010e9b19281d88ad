package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// userAgent はGraph APIリクエストに付与するUser-Agentヘッダ。
const userAgent = "racist-comment-generator/1.0 crawler"

// Client はGraph APIのHTTPクライアント。
// 全リクエストは同期・直列で、レートリミッタを通してから発行される。
// ページネーションはpaging.nextのURLを辿ることで透過的に処理される。
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger
	baseURL     string // 例: "https://graph.facebook.com"
	version     string // 例: "v2.10"
	accessToken string
}

// NewClient はClientの新しいインスタンスを生成する。
// requestsPerSecondが0以下の場合はレート制限なしで動作する。
func NewClient(
	httpClient *http.Client,
	logger *slog.Logger,
	baseURL, version, accessToken string,
	requestsPerSecond float64,
) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	return &Client{
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, 1),
		logger:      logger,
		baseURL:     strings.TrimRight(baseURL, "/"),
		version:     version,
		accessToken: accessToken,
	}
}

// Object は指定パスのオブジェクトディスクリプタを取得する。
// ページ発見フェーズでページパスをリモートIDと名前に解決するために使う。
func (c *Client) Object(ctx context.Context, path string) (*Object, error) {
	q := url.Values{}
	q.Set("fields", "id,name")

	body, err := c.get(ctx, c.objectURL(path, q))
	if err != nil {
		return nil, err
	}

	var obj Object
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode object response: %w", err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("object response for %q has no id", path)
	}
	return &obj, nil
}

// Posts は親オブジェクトのpostsコレクションを遅延列挙するイテレータを返す。
// リクエストはイテレータのNextが呼ばれるまで発行されない。
func (c *Client) Posts(parentID string, opt ConnectionOptions) PostIterator {
	return &postIterator{it: c.newConnectionIterator(parentID, "posts", opt)}
}

// Comments は親オブジェクト（投稿またはコメント）のcommentsコレクションを
// 遅延列挙するイテレータを返す。
func (c *Client) Comments(parentID string, opt ConnectionOptions) CommentIterator {
	return &commentIterator{it: c.newConnectionIterator(parentID, "comments", opt)}
}

// objectURL はオブジェクト取得用のURLを構築する。
func (c *Client) objectURL(path string, q url.Values) string {
	q.Set("access_token", c.accessToken)
	return fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.version, path, q.Encode())
}

// connectionURL は子コレクションの先頭ページのURLを構築する。
// since/untilはGraph APIの慣習に合わせてエポック秒で送る。
func (c *Client) connectionURL(parentID, relation string, opt ConnectionOptions) string {
	q := url.Values{}
	if len(opt.Fields) > 0 {
		q.Set("fields", strings.Join(opt.Fields, ","))
	}
	if opt.Order != "" {
		q.Set("order", opt.Order)
	}
	if opt.Since != nil {
		q.Set("since", strconv.FormatInt(opt.Since.Unix(), 10))
	}
	if opt.Until != nil {
		q.Set("until", strconv.FormatInt(opt.Until.Unix(), 10))
	}
	if opt.PageSize > 0 {
		q.Set("limit", strconv.Itoa(opt.PageSize))
	}
	return c.objectURL(parentID+"/"+relation, q)
}

// get はレートリミッタを通してGETリクエストを1回発行する。
// 非200レスポンスはGraphのエラーエンベロープとしてデコードし*APIErrorを返す。
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}

	c.logger.Debug("graph request completed",
		slog.Int("http_status", resp.StatusCode),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if resp.StatusCode != http.StatusOK {
		var envelope struct {
			Error APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
			return nil, fmt.Errorf("graph API returned status %d", resp.StatusCode)
		}
		return nil, &envelope.Error
	}

	return body, nil
}

// connectionPage は子コレクション1ページ分のレスポンス。
type connectionPage struct {
	Data   []json.RawMessage `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// connectionIterator はpaging.nextを辿る共通イテレータ。
// バッファが空になるたびに次ページを1回だけフェッチする。
type connectionIterator struct {
	c       *Client
	nextURL string
	buf     []json.RawMessage
	done    bool
}

// newConnectionIterator は子コレクションの共通イテレータを生成する。
func (c *Client) newConnectionIterator(parentID, relation string, opt ConnectionOptions) *connectionIterator {
	return &connectionIterator{
		c:       c,
		nextURL: c.connectionURL(parentID, relation, opt),
	}
}

// next はコレクションの次のレコードを返す。
// 2番目の戻り値がfalseになった時点で全ページを読み切っている。
func (it *connectionIterator) next(ctx context.Context) (json.RawMessage, bool, error) {
	for len(it.buf) == 0 {
		if it.done || it.nextURL == "" {
			return nil, false, nil
		}

		body, err := it.c.get(ctx, it.nextURL)
		if err != nil {
			return nil, false, err
		}

		var page connectionPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, false, fmt.Errorf("failed to decode connection page: %w", err)
		}

		it.buf = page.Data
		it.nextURL = page.Paging.Next
		if it.nextURL == "" {
			it.done = true
		}
	}

	rec := it.buf[0]
	it.buf = it.buf[1:]
	return rec, true, nil
}

// postIterator はconnectionIteratorをPostにデコードする薄いラッパー。
type postIterator struct {
	it *connectionIterator
}

// Next はPostIteratorインターフェースを実装する。
func (p *postIterator) Next(ctx context.Context) (*Post, bool, error) {
	raw, ok, err := p.it.next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	var post Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return nil, false, fmt.Errorf("failed to decode post record: %w", err)
	}
	return &post, true, nil
}

// commentIterator はconnectionIteratorをCommentにデコードする薄いラッパー。
type commentIterator struct {
	it *connectionIterator
}

// Next はCommentIteratorインターフェースを実装する。
func (c *commentIterator) Next(ctx context.Context) (*Comment, bool, error) {
	raw, ok, err := c.it.next(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	var comment Comment
	if err := json.Unmarshal(raw, &comment); err != nil {
		return nil, false, fmt.Errorf("failed to decode comment record: %w", err)
	}
	return &comment, true, nil
}
