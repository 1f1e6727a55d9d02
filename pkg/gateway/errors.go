package gateway

import (
	"errors"
	"fmt"
)

// ErrContract は、HTTP としては成功していても応答の形が契約を破っている場合
// （配列長の不一致や必須フィールドの欠落など）に使う番兵エラーです。
// この違反は該当ステージの致命的エラーとして扱います。
var ErrContract = errors.New("応答が契約に違反しています")

// StatusError は、バックエンドが非 2xx を返したことを表す転送エラーです。
type StatusError struct {
	Endpoint string // 呼び出したエンドポイント（例: "/analyze"）
	Code     int    // HTTP ステータスコード
	Body     string // 応答本文の先頭（診断用）
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("バックエンド %s が異常応答を返しました: status=%d body=%q", e.Endpoint, e.Code, e.Body)
}

// IsContractViolation は、エラーが応答契約違反かどうかを判定します。
func IsContractViolation(err error) bool {
	return errors.Is(err, ErrContract)
}

// IsTransport は、エラーが転送層（ネットワークまたは HTTP ステータス）由来かどうかを判定します。
// 契約違反はデコード成功後の検査で検出されるため、ここには含まれません。
func IsTransport(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return true
	}
	return err != nil && !IsContractViolation(err)
}
