package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// RAG 服务错误码，格式 AABBCCC，AA = 20。
var (
	// 请求参数错误 (类别 01)
	ErrRAGInvalidRequest = Register(New(MakeCode(ServiceRAG, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid request parameters", "请求参数无效"))

	// 配置错误 (类别 12)
	ErrInvalidConfiguration = Register(New(MakeCode(ServiceRAG, CategoryConfig, 1), http.StatusInternalServerError, codes.FailedPrecondition, "Invalid configuration", "配置无效"))

	// 文档与索引错误 (类别 07)
	ErrDocumentLoad = Register(New(MakeCode(ServiceRAG, CategoryInternal, 1), http.StatusInternalServerError, codes.Internal, "Document load failed", "文档加载失败"))
	ErrIndexCorrupt = Register(New(MakeCode(ServiceRAG, CategoryInternal, 2), http.StatusInternalServerError, codes.DataLoss, "Vector index is corrupt", "向量索引已损坏"))
	ErrQueryFailed  = Register(New(MakeCode(ServiceRAG, CategoryInternal, 3), http.StatusInternalServerError, codes.Internal, "Query failed", "查询失败"))

	// 外部服务错误 (类别 10)
	ErrEmbeddingService      = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 1), http.StatusServiceUnavailable, codes.Unavailable, "Embedding service error", "向量化服务错误"))
	ErrGenerationService     = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 2), http.StatusServiceUnavailable, codes.Unavailable, "Generation service error", "生成服务错误"))
	ErrRAGServiceUnavailable = Register(New(MakeCode(ServiceRAG, CategoryNetwork, 3), http.StatusServiceUnavailable, codes.Unavailable, "RAG service unavailable", "RAG 服务不可用"))

	// 超时 (类别 11)
	ErrRAGQueryTimeout = Register(New(MakeCode(ServiceRAG, CategoryTimeout, 1), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Query timeout", "查询超时"))
)
