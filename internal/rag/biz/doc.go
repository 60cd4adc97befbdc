// Package biz 提供 RAG 服务的业务逻辑层。
//
// 该包将问答流程拆分为以下组件：
//   - VectorIndex: 负责索引的构建、加载与检索
//   - Synthesizer: 负责拼装上下文并调用 LLM 生成回答
//   - QueryCache: 可选的 Redis 回答缓存
//   - RAGService: 组合以上组件，管理初始化状态并对外提供问答
package biz
