// Package sanitize はコメント本文のクリーニング機能を提供する。
//
// MessageSanitizerService は取得したコメントのペイロードを保存可能な
// テキストへ変換する純粋関数で、空文字列を返した場合そのコメントは
// 破棄される（呼び出し側は空メッセージのエンティティを保存してはならない）。
package sanitize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/birnbaum/racist-comment-generator/internal/graph"
)

// DefaultExcludedHashtag はデフォルトで除外するキャンペーンハッシュタグ。
// #HassHilft (http://hasshilft.de/) を含むコメントはキャンペーンの定型反応で
// あり、データ品質ではなくコンテンツポリシー上の理由で収集対象から外す。
const DefaultExcludedHashtag = "#HassHilft"

// urlPattern はメッセージ中のURL風トークンにマッチする。
// スキームから次の空白までを貪欲に取り除く。
var urlPattern = regexp.MustCompile(`https?://\S+`)

// MessageSanitizerService はコメント本文のクリーニングのインターフェースを定義する。
type MessageSanitizerService interface {
	// Sanitize はコメントペイロードをクリーニングして保存可能な文字列を返す。
	// 空文字列は破棄シグナルである。ルールは次の順に適用される:
	//  1. message_tagsを持つコメントは全体を破棄する
	//     （リンクされたユーザーを含むコメントは大半が絵文字のみの反応で分析価値が低い）
	//  2. 除外ハッシュタグを含むコメントは全体を破棄する
	//  3. マークアップを除去する
	//  4. URL風トークンを除去する
	//  5. 前後の空白をトリムする
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(comment *graph.Comment) string
}

// messageSanitizer はMessageSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフに動作する。
type messageSanitizer struct {
	policy          *bluemonday.Policy
	excludedHashtag string
}

// NewMessageSanitizer はMessageSanitizerServiceの新しいインスタンスを生成する。
// excludedHashtagが空の場合はハッシュタグによる破棄を行わない。
func NewMessageSanitizer(excludedHashtag string) *messageSanitizer {
	return &messageSanitizer{
		// StrictPolicyは全タグを除去する。Graphのメッセージは原則プレーン
		// テキストだが、マークアップ混入に備えて保存前に必ず通す。
		policy:          bluemonday.StrictPolicy(),
		excludedHashtag: excludedHashtag,
	}
}

// Sanitize はコメント本文をクリーニングして返す。
func (s *messageSanitizer) Sanitize(comment *graph.Comment) string {
	if len(comment.MessageTags) > 0 {
		return ""
	}

	message := comment.Message
	if s.excludedHashtag != "" && strings.Contains(message, s.excludedHashtag) {
		return ""
	}

	// StrictPolicyは&や<をエンティティ化するため、除去後に実体参照を戻す。
	message = html.UnescapeString(s.policy.Sanitize(message))
	message = urlPattern.ReplaceAllString(message, "")

	return strings.TrimSpace(message)
}
