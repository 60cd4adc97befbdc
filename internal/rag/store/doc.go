// Package store 提供 RAG 服务的向量存储层。
//
// VectorStore 有两个实现：默认的 SQLiteStore 把索引持久化到本地目录，
// MilvusStore 使用远端 Milvus 集合。两者都按余弦相似度降序返回结果，
// 分数相同时按插入顺序排列。
package store
