package domain

// KnowledgeDocument is one ingested document, grouped from its chunks
type KnowledgeDocument struct {
	DocID    string `json:"doc_id"`
	Source   string `json:"source,omitempty"`
	Category string `json:"category,omitempty"`
	Chunks   int    `json:"chunks"`
}

// KnowledgeBaseInfo summarises the knowledge base collection
type KnowledgeBaseInfo struct {
	Status         string `json:"status"`
	Collection     string `json:"collection"`
	TotalDocuments int    `json:"total_documents"`
	TotalChunks    int    `json:"total_chunks"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
	VectorDatabase string `json:"vector_database"`
}
