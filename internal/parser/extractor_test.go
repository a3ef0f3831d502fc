package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDetectFormat 魔数优先于扩展名
func TestDetectFormat(t *testing.T) {
	testCases := []struct {
		name     string
		data     []byte
		filename string
		expected DocumentFormat
	}{
		{"PDF魔数", []byte("%PDF-1.7 ..."), "cv.bin", FormatPDF},
		{"DOCX的ZIP魔数", []byte{0x50, 0x4B, 0x03, 0x04, 0x14, 0x00}, "cv.bin", FormatDOCX},
		{"旧版Word的OLE头", []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1, 0x00}, "cv.doc", FormatDOC},
		{"按扩展名识别PDF", []byte("no magic here"), "cv.PDF", FormatPDF},
		{"按扩展名识别DOCX", []byte("no magic here"), "report.docx", FormatDOCX},
		{"纯文本扩展名", []byte("hello world"), "notes.txt", FormatText},
		{"无魔数无扩展名按文本处理", []byte("plain content"), "README", FormatText},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, DetectFormat(tc.data, tc.filename))
		})
	}
}

// TestExtract_LegacyDocReturnsEmpty 旧版.doc不支持，应返回空而不是错误
func TestExtract_LegacyDocReturnsEmpty(t *testing.T) {
	e := &Extractor{}
	data := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 64)...)

	text := e.Extract(context.Background(), data, "resume.doc")
	assert.Empty(t, text, "旧版Word文档应返回空字符串")
}

// TestExtract_EmptyData 空内容应返回空字符串
func TestExtract_EmptyData(t *testing.T) {
	e := &Extractor{}
	assert.Empty(t, e.Extract(context.Background(), nil, "cv.pdf"))
}

// TestExtractPlainText_UTF8 UTF-8文本直接通过
func TestExtractPlainText_UTF8(t *testing.T) {
	text := extractPlainText([]byte("Go backend developer with five years of experience.\n后端开发经验丰富。"), "cv.txt")
	assert.Contains(t, text, "Go backend developer")
	assert.Contains(t, text, "后端开发经验丰富")
}

// TestExtractPlainText_UTF16LE 带BOM的UTF-16LE应正确解码
func TestExtractPlainText_UTF16LE(t *testing.T) {
	// "Go dev" 的UTF-16LE编码，带BOM
	data := []byte{0xFF, 0xFE, 'G', 0x00, 'o', 0x00, ' ', 0x00, 'd', 0x00, 'e', 0x00, 'v', 0x00}
	text := extractPlainText(data, "cv.txt")
	assert.Equal(t, "Go dev", text)
}

// TestExtractPlainText_UTF16LENoBOM 无BOM的UTF-16LE是合法UTF-8(NUL字节)，
// 但比例不达标时必须继续尝试UTF-16LE解码而不是直接放弃
func TestExtractPlainText_UTF16LENoBOM(t *testing.T) {
	expected := "Go backend developer with five years of experience."
	data := make([]byte, 0, len(expected)*2)
	for _, r := range expected {
		data = append(data, byte(r), 0x00)
	}

	text := extractPlainText(data, "cv.txt")
	assert.Equal(t, expected, text)
}

// TestExtractPlainText_Latin1 非UTF-8的单字节编码按Latin-1兜底
func TestExtractPlainText_Latin1(t *testing.T) {
	// "Senior engineer, résumé attached for review." 的Latin-1编码，
	// 0xE9不是合法的UTF-8序列
	data := []byte("Senior engineer, r\xE9sum\xE9 attached for review.")
	text := extractPlainText(data, "cv.txt")
	assert.Equal(t, "Senior engineer, résumé attached for review.", text)
}

// TestExtractPlainText_BinaryGarbage 二进制内容应被比例阈值拦截
func TestExtractPlainText_BinaryGarbage(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i % 32) // 大量控制字符
	}
	text := extractPlainText(data, "cv.bin")
	assert.Empty(t, text, "二进制垃圾内容应返回空字符串")
}

// TestExtractPlainText_HighByteBinary 高位字节噪声经UTF-16LE或Latin-1解码后
// 会变成"合法"的CJK或Latin补充字符，不应混过可读性阈值
func TestExtractPlainText_HighByteBinary(t *testing.T) {
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(0x80 + i%0x78)
	}
	text := extractPlainText(data, "cv.bin")
	assert.Empty(t, text, "高位字节的二进制噪声应返回空字符串")
}

// TestDocxXMLToText 段落与换行节点应映射为换行符
func TestDocxXMLToText(t *testing.T) {
	content := `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
		<w:body>
			<w:p><w:r><w:t>第一段</w:t></w:r></w:p>
			<w:p><w:r><w:t>带</w:t></w:r><w:r><w:tab/><w:t>制表符</w:t></w:r></w:p>
			<w:p><w:r><w:t>前半</w:t><w:br/><w:t>后半</w:t></w:r></w:p>
		</w:body>
	</w:document>`

	text, err := docxXMLToText(content)
	require.NoError(t, err)
	assert.Contains(t, text, "第一段\n")
	assert.Contains(t, text, "带\t制表符")
	assert.Contains(t, text, "前半\n后半")
}

// TestPrintableRatio 比例计算，只认ASCII可打印字符与空白
func TestPrintableRatio(t *testing.T) {
	assert.Equal(t, float64(1), printableRatio("normal text with spaces\n"))
	assert.Less(t, printableRatio(string([]byte{0x00, 0x01, 0x02, 'a'})), 0.5)
	assert.Equal(t, float64(0), printableRatio(""))
	// 误解码产生的C1控制符与CJK字符都不计入可打印
	assert.Equal(t, float64(0), printableRatio("\u0085\u0090\u009f"))
	assert.Equal(t, float64(0), printableRatio("膀莂薄螆"))
}
