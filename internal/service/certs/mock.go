// Package certs содержит заглушку внешнего эмитента сертификатов
// подлинности. Ядро обращается к нему только после успешной доставки.
package certs

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/farmline/internal/domain"
)

// MintedCertificate фиксирует параметры выпущенного сертификата.
type MintedCertificate struct {
	ID          string
	ProductID   int64
	ProductName string
	IsOrganic   bool
	Recipient   string
}

// MockService — in-memory эмитент с детерминированными идентификаторами.
// Используется в разработке и тестах; ошибку выпуска можно сымитировать
// через SetError.
type MockService struct {
	mu     sync.Mutex
	seq    int64
	err    error
	minted []MintedCertificate
}

// NewMockService создаёт заглушку эмитента.
func NewMockService() *MockService {
	return &MockService{}
}

// SetError заставляет последующие вызовы Mint возвращать err (nil снимает).
func (s *MockService) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Mint выпускает сертификат и возвращает его идентификатор.
func (s *MockService) Mint(productID int64, productName string, isOrganic bool, recipient string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return "", s.err
	}

	s.seq++
	cert := MintedCertificate{
		ID:          fmt.Sprintf("cert-%d", s.seq),
		ProductID:   productID,
		ProductName: productName,
		IsOrganic:   isOrganic,
		Recipient:   recipient,
	}
	s.minted = append(s.minted, cert)
	return cert.ID, nil
}

// Minted возвращает копию списка выпущенных сертификатов.
func (s *MockService) Minted() []MintedCertificate {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]MintedCertificate, len(s.minted))
	copy(result, s.minted)
	return result
}

var _ domain.CertificateIssuer = (*MockService)(nil)
