package config

// Template is the config file shipped by `semcode config init`. Every
// recognized key appears with its default; defaults are not supplied
// silently at load time for keys outside this set.
const Template = `# semcode configuration

[embedding]
# provider:model for code blocks and for text/doc blocks.
code_model = "voyage:voyage-code-3"
text_model = "voyage:voyage-3.5"

# Per-provider credentials. The <PROVIDER>_API_KEY environment variable
# takes precedence over these.
# [embedding.voyage]
# api_key = ""
# [embedding.jina]
# api_key = ""
# [embedding.google]
# api_key = ""
# [embedding.openai]
# api_key = ""

[index]
chunk_size = 2000
chunk_overlap = 100
embeddings_batch_size = 16
max_batch_tokens = 100000
require_git = true
graphrag_enabled = false

[search]
max_results = 20
similarity_threshold = 0.65
output_format = "text"

[graphrag]
use_llm = false
confidence_threshold = 0.8

[memory]
enabled = true
max_memories = 10000

[watch]
debounce_seconds = 2
additional_delay_ms = 1000
`
