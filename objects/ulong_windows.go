package objects

// ulongSize is sizeof(CK_ULONG). The Windows ABI keeps unsigned long at
// 32 bits on every architecture.
const ulongSize = 4
