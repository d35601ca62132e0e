package ir

// EngineVersion is the changeling release, reported by `changeling --version`.
const EngineVersion = "0.1.0"
