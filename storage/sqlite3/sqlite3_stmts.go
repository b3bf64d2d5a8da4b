package sqlite3

const CreateKeyTable = `
    CREATE TABLE IF NOT EXISTS key_cache (
        slot		TEXT NOT NULL,
        id			TEXT NOT NULL,
        meta		BLOB NOT NULL,
        cert		BLOB,
        fetched		INTEGER NOT NULL,
        PRIMARY KEY (slot, id)
    )`

const InsertKeyQuery = `
	INSERT OR REPLACE INTO key_cache (slot, id, meta, cert, fetched)
	VALUES (?, ?, ?, ?, ?)
`

const GetKeyQuery = `
        SELECT meta, cert, fetched
        FROM key_cache
        WHERE slot = ? AND id = ? AND fetched >= ?
`

const DeleteKeyQuery = `
	DELETE FROM key_cache WHERE slot = ? AND id = ?
`

var CreateStmts = []string{CreateKeyTable}
