// Package storage 提供统一的持久化存储服务
//
// Storage 模块基于 BadgerDB 实现，为路由表快照、DHT 记录、
// 内容描述与分块提供同一个键值存储后端，通过前缀隔离：
//
//	┌─────────────────────────────────────────┐
//	│   dht (d/r/, d/v/) | content (c/d/, c/c/) │
//	└─────────────────────────────────────────┘
//	                   │
//	                   ▼
//	┌─────────────────────────────────────────┐
//	│  kv.Store  带前缀隔离的 KV 抽象          │
//	├─────────────────────────────────────────┤
//	│  engine/badger  BadgerDB 实现            │
//	└─────────────────────────────────────────┘
package storage
