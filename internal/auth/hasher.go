package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	saltSize = 64

	// scryptのパラメータ。N=2^17 で1回の導出に約128MiBのメモリと
	// 数百ミリ秒のCPU時間を要します。盗まれたハッシュDBへの
	// オフライン総当たり攻撃への対策として意図的に重くしています。
	scryptN      = 1 << 17
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 192
)

// ErrHashing はハッシュ値の導出に失敗したことを示します。
// 詳細はログにのみ出力し、クライアントには返しません。
var ErrHashing = errors.New("failed to derive password hash")

// Hasher はパスワードのハッシュ導出と検証を提供します。
// 導出は1回あたり約128MiBを消費するため、同時実行数をgateで制限し、
// ログインが集中してもリクエスト処理全体を巻き込まないようにします。
type Hasher struct {
	gate chan struct{}
}

// NewHasher は同時導出数を maxConcurrent に制限した Hasher を作成します。
func NewHasher(maxConcurrent int) *Hasher {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Hasher{gate: make(chan struct{}, maxConcurrent)}
}

// GenerateSalt は64バイトの暗号学的乱数Saltを生成します。
func (h *Hasher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// ComputeHash はパスワードをNFC正規化した上でscryptハッシュを導出します。
// 同じパスワードとSaltの組に対しては常に同じハッシュを返します。
func (h *Hasher) ComputeHash(password string, salt []byte) ([]byte, error) {
	h.gate <- struct{}{}
	defer func() { <-h.gate }()

	normalized := norm.NFC.String(password)
	hash, err := scrypt.Key([]byte(normalized), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, ErrHashing
	}
	return hash, nil
}

// Verify はハッシュを再計算して期待値と比較します。
// 比較には subtle.ConstantTimeCompare を使い、最初に異なるバイトの位置に
// 依存しない時間で判定します（長さ不一致も内容を見ずに false）。
func (h *Hasher) Verify(password string, salt, expected []byte) (bool, error) {
	computed, err := h.ComputeHash(password, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}
