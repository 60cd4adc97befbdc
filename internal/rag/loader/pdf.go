package loader

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kart-io/finrag/internal/model"
)

// PDFExtractor 使用 ledongthuc/pdf 逐页抽取纯文本，页码从 0 开始。
type PDFExtractor struct{}

// NewPDFExtractor 创建 PDF 抽取器。
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// ExtractPages 实现 PageExtractor。解析库遇到损坏文件可能 panic，这里转换为错误。
func (e *PDFExtractor) ExtractPages(path string) (pages []model.Page, err error) {
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("parse %s: %v", path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	total := r.NumPage()
	pages = make([]model.Page, 0, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("read %s page %d: %w", path, i-1, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		pages = append(pages, model.Page{
			Content:  text,
			Metadata: model.Metadata{Source: path, Page: i - 1},
		})
	}
	return pages, nil
}
