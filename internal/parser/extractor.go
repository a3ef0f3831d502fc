package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"cv-evaluator-go/internal/logger"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// DocumentFormat 文档格式，按文件魔数与扩展名判定的封闭集合
type DocumentFormat int

const (
	FormatUnknown DocumentFormat = iota
	FormatPDF
	FormatDOCX
	FormatDOC // 旧版二进制Word文档，不支持提取
	FormatText
)

// String 返回格式名称
func (f DocumentFormat) String() string {
	switch f {
	case FormatPDF:
		return "pdf"
	case FormatDOCX:
		return "docx"
	case FormatDOC:
		return "doc"
	case FormatText:
		return "text"
	default:
		return "unknown"
	}
}

// 可打印字符比例低于此阈值的文本视为二进制垃圾
const minPrintableRatio = 0.7

// Extractor 从候选人上传的文档中提取纯文本
// 提取失败不视为错误：返回空字符串并记录警告，由下游决定如何处理内容缺失
type Extractor struct {
	pdfParser *pdf.PDFParser
}

// NewExtractor 初始化文档文本提取器
// PDF解析配置为不按页面分割，以获取整个文档的连续文本
func NewExtractor(ctx context.Context) (*Extractor, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{
		ToPages: false,
	})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}

	return &Extractor{pdfParser: p}, nil
}

// DetectFormat 判定文档格式，优先按文件魔数，其次按扩展名
func DetectFormat(data []byte, filename string) DocumentFormat {
	if len(data) >= 5 && bytes.HasPrefix(data, []byte("%PDF-")) {
		return FormatPDF
	}
	// DOCX是ZIP容器
	if len(data) >= 4 && bytes.HasPrefix(data, []byte{0x50, 0x4B, 0x03, 0x04}) {
		return FormatDOCX
	}
	// 旧版Word的OLE复合文档头
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}) {
		return FormatDOC
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF
	case ".docx":
		return FormatDOCX
	case ".doc":
		return FormatDOC
	case ".txt", ".md", ".text":
		return FormatText
	}

	// 无魔数无已知扩展名，按文本尝试
	return FormatText
}

// Extract 从文档内容中提取纯文本
// 不可提取的内容(损坏文件、旧版.doc、二进制垃圾)返回空字符串并记录警告
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) string {
	if len(data) == 0 {
		logger.Warn().Str("filename", filename).Msg("文档内容为空")
		return ""
	}

	format := DetectFormat(data, filename)
	start := time.Now()

	var text string
	switch format {
	case FormatPDF:
		text = e.extractPDF(ctx, data, filename)
	case FormatDOCX:
		text = e.extractDOCX(data, filename)
	case FormatDOC:
		logger.Warn().Str("filename", filename).Msg("不支持旧版二进制Word文档，请转换为PDF或DOCX")
		return ""
	case FormatText:
		text = extractPlainText(data, filename)
	default:
		logger.Warn().Str("filename", filename).Msg("无法识别的文档格式")
		return ""
	}

	logger.Debug().
		Str("filename", filename).
		Str("format", format.String()).
		Int("chars", len(text)).
		Dur("duration", time.Since(start)).
		Msg("文档文本提取完成")
	return text
}

// ExtractFile 从本地文件提取纯文本
func (e *Extractor) ExtractFile(ctx context.Context, filePath string) string {
	data, err := os.ReadFile(filePath)
	if err != nil {
		logger.Warn().Err(err).Str("path", filePath).Msg("读取文档文件失败")
		return ""
	}
	return e.Extract(ctx, data, filepath.Base(filePath))
}

// extractPDF 通过Eino PDF解析器提取文本
func (e *Extractor) extractPDF(ctx context.Context, data []byte, filename string) string {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := e.pdfParser.Parse(ctx, bytes.NewReader(data),
		einoParser.WithURI(filename),
	)
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("PDF文本提取失败")
		return ""
	}
	if len(docs) == 0 {
		logger.Warn().Str("filename", filename).Msg("PDF解析无结果")
		return ""
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	return sb.String()
}

// extractDOCX 解析DOCX容器并从document.xml中抽取文本节点
func (e *Extractor) extractDOCX(data []byte, filename string) string {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("DOCX文档解析失败")
		return ""
	}
	defer r.Close()

	content := r.Editable().GetContent()
	text, err := docxXMLToText(content)
	if err != nil {
		logger.Warn().Err(err).Str("filename", filename).Msg("DOCX文本抽取失败")
		return ""
	}
	return text
}

// docxXMLToText 遍历WordprocessingML，收集文本节点
// 段落结束与换行符映射为换行，制表符节点映射为\t
func docxXMLToText(content string) (string, error) {
	decoder := xml.NewDecoder(strings.NewReader(content))
	var sb strings.Builder

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("解析document.xml失败: %w", err)
		}

		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.StartElement:
			switch t.Name.Local {
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Local == "p" {
				sb.WriteByte('\n')
			}
		}
	}

	return strings.TrimSpace(sb.String()), nil
}

// extractPlainText 按UTF-8、UTF-16LE、Latin-1的顺序依次尝试解码
// 取第一个可打印比例达标的结果；全部不达标视为二进制内容
// 注意无BOM的UTF-16LE文本(NUL字节)也是合法UTF-8，所以UTF-8判定通过
// 但比例不达标时不能直接放弃，要继续尝试后面的编码
func extractPlainText(data []byte, filename string) string {
	if utf8.Valid(data) {
		text := string(data)
		if printableRatio(text) >= minPrintableRatio {
			return strings.TrimSpace(text)
		}
	}

	// UTF-16LE，Windows导出的文本常见编码
	utf16Decoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
	if decoded, err := utf16Decoder.Bytes(data); err == nil {
		text := string(decoded)
		if utf8.ValidString(text) && printableRatio(text) >= minPrintableRatio {
			return strings.TrimSpace(text)
		}
	}

	// Latin-1兜底，任何字节序列都可解码，靠比例阈值把关
	if decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		text := string(decoded)
		if printableRatio(text) >= minPrintableRatio {
			return strings.TrimSpace(text)
		}
	}

	logger.Warn().Str("filename", filename).Msg("无法按已知编码解码出可读文本")
	return ""
}

// printableRatio 统计ASCII可打印字符与空白的占比
// 只认[\x20-\x7E]与空白，误解码产生的C1控制符和假CJK字符都不计入，
// 否则二进制噪声经UTF-16/Latin-1解码后会混过阈值
func printableRatio(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	total := 0
	printable := 0
	for _, r := range text {
		total++
		if (r >= 0x20 && r <= 0x7E) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}
