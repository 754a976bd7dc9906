package payables

import (
	"context"
	"fmt"
)

// Schema creates the installments table the repository reads and writes.
const Schema = `CREATE TABLE IF NOT EXISTS ap_installments (
    id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    descricao           TEXT NOT NULL,
    fornecedor          TEXT NOT NULL DEFAULT '',
    valor               NUMERIC(14,2) NOT NULL,
    categoria           TEXT,
    status              TEXT NOT NULL DEFAULT 'pendente'
                        CHECK (status IN ('pendente','pago','vencido','cancelado')),
    data_vencimento     DATE NOT NULL,
    forma_pagamento     TEXT,
    observacoes         TEXT,
    banco               TEXT,
    data_pagamento      DATE,
    data_hora_pagamento TIMESTAMPTZ,
    deleted_at          TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS ap_installments_due_idx ON ap_installments (data_vencimento) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS ap_installments_trash_idx ON ap_installments (deleted_at) WHERE deleted_at IS NOT NULL;`

// EnsureSchema applies Schema.
func EnsureSchema(ctx context.Context, conn DB) error {
	if _, err := conn.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("payables: ensure schema: %w", err)
	}
	return nil
}
