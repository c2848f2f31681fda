package ncm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// SystaxClient raspa a página pública de consulta da Systax para
// descrições de NCM que a tabela oficial não cobre. É estritamente
// melhor-esforço: qualquer coisa fora do caminho feliz vira descrição
// vazia, nunca uma falha da consulta.
type SystaxClient struct {
	baseURL string
	http    *http.Client
}

func NewSystaxClient(baseURL string) *SystaxClient {
	return &SystaxClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *SystaxClient) Describe(ctx context.Context, digits string) (string, error) {
	u := fmt.Sprintf("%s/ncm/%s", c.baseURL, url.PathEscape(digits))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "ncm-dashboard/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("systax devolveu status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// a descrição vem no primeiro h1/h2 da página de detalhe; páginas
	// de "não encontrado" vêm sem ele
	desc := strings.TrimSpace(doc.Find("h1, h2").First().Text())
	if desc == "" {
		desc = strings.TrimSpace(doc.Find(".ncm-descricao").First().Text())
	}
	// descarta títulos genéricos da própria página
	if strings.EqualFold(desc, "consulta ncm") {
		return "", nil
	}
	return desc, nil
}
