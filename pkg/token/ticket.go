// Package token 提供了用于签发和校验文档事件流票据的 JWT 功能。
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TicketManager 签发短期有效的 HS256 票据，证明持有者可以订阅某个文档的事件流。
type TicketManager struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// TicketClaims 是票据中携带的数据。
type TicketClaims struct {
	DocumentID     string `json:"documentId"`
	ConversationID string `json:"conversationId"`
	ClientID       string `json:"clientId"`
	jwt.RegisteredClaims
}

// NewTicketManager 创建票据管理器。secret 为空时使用进程内随机密钥，票据在重启后失效。
func NewTicketManager(secret string, ttl time.Duration) *TicketManager {
	if secret == "" {
		secret = GenerateRandomString(32)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &TicketManager{secretKey: []byte(secret), ttl: ttl, now: time.Now}
}

// Generate 为客户端签发某个文档的事件流票据。
func (m *TicketManager) Generate(documentID, conversationID, clientID string) (string, error) {
	now := m.now()
	claims := TicketClaims{
		DocumentID:     documentID,
		ConversationID: conversationID,
		ClientID:       clientID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   documentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secretKey)
}

// Verify 校验票据并返回其中的数据，签名不匹配或已过期时返回错误。
func (m *TicketManager) Verify(ticket string) (*TicketClaims, error) {
	parsed, err := jwt.ParseWithClaims(ticket, &TicketClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secretKey, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	if claims, ok := parsed.Claims.(*TicketClaims); ok && parsed.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid ticket")
}

// GenerateRandomString generates a random hex string of a given length.
func GenerateRandomString(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("fallback%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
