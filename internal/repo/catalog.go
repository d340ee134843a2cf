package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

const ruleColumns = `id,topic_code,from_status,to_status,enabled,sla_hours,required_data_keys,required_mime_types`

func (r Repo) UpsertStatusTx(ctx context.Context, tx *sqlx.Tx, s domain.Status) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO statuses(code,name,is_terminal,kind,invoice_template) VALUES (?,?,?,?,?)
ON CONFLICT(code) DO UPDATE SET name=excluded.name, is_terminal=excluded.is_terminal, kind=excluded.kind, invoice_template=excluded.invoice_template`,
		s.Code, s.Name, s.IsTerminal, string(s.Kind), s.InvoiceTemplate)
	return err
}

func getStatus(ctx context.Context, q sqlx.QueryerContext, code string) (domain.Status, error) {
	var s domain.Status
	err := get(ctx, q, &s, `SELECT code,name,is_terminal,kind,invoice_template FROM statuses WHERE code=?`, code)
	return s, err
}

func (r Repo) GetStatus(ctx context.Context, code string) (domain.Status, error) {
	return getStatus(ctx, r.DB, code)
}

func (r Repo) GetStatusTx(ctx context.Context, tx *sqlx.Tx, code string) (domain.Status, error) {
	return getStatus(ctx, tx, code)
}

func (r Repo) ListStatuses(ctx context.Context) ([]domain.Status, error) {
	var res []domain.Status
	err := r.DB.SelectContext(ctx, &res, `SELECT code,name,is_terminal,kind,invoice_template FROM statuses ORDER BY code`)
	return res, err
}

func terminalStatusCodes(ctx context.Context, q sqlx.QueryerContext) ([]string, error) {
	var codes []string
	err := sqlx.SelectContext(ctx, q, &codes, `SELECT code FROM statuses WHERE is_terminal=1 ORDER BY code`)
	return codes, err
}

func (r Repo) TerminalStatusCodes(ctx context.Context) ([]string, error) {
	return terminalStatusCodes(ctx, r.DB)
}

func (r Repo) TerminalStatusCodesTx(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	return terminalStatusCodes(ctx, tx)
}

// UpsertRuleTx inserts or replaces the rule keyed by (topic, from, to).
func (r Repo) UpsertRuleTx(ctx context.Context, tx *sqlx.Tx, rule domain.TransitionRule) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO transition_rules(topic_code,from_status,to_status,enabled,sla_hours,required_data_keys,required_mime_types)
VALUES (?,?,?,?,?,?,?)
ON CONFLICT(topic_code,from_status,to_status) DO UPDATE SET enabled=excluded.enabled, sla_hours=excluded.sla_hours,
required_data_keys=excluded.required_data_keys, required_mime_types=excluded.required_mime_types`,
		rule.TopicCode, rule.FromStatus, rule.ToStatus, rule.Enabled, rule.SLAHours, rule.RequiredDataKeys, rule.RequiredMimeTypes)
	return err
}

func listRules(ctx context.Context, q sqlx.QueryerContext, topic string) ([]domain.TransitionRule, error) {
	var res []domain.TransitionRule
	err := sqlx.SelectContext(ctx, q, &res, `SELECT `+ruleColumns+` FROM transition_rules WHERE topic_code=? ORDER BY id`, topic)
	return res, err
}

// ListRules returns every rule of the topic, disabled ones included, in id order.
func (r Repo) ListRules(ctx context.Context, topic string) ([]domain.TransitionRule, error) {
	return listRules(ctx, r.DB, topic)
}

func (r Repo) ListRulesTx(ctx context.Context, tx *sqlx.Tx, topic string) ([]domain.TransitionRule, error) {
	return listRules(ctx, tx, topic)
}

func (r Repo) ListAllRules(ctx context.Context) ([]domain.TransitionRule, error) {
	var res []domain.TransitionRule
	err := r.DB.SelectContext(ctx, &res, `SELECT `+ruleColumns+` FROM transition_rules ORDER BY topic_code, id`)
	return res, err
}

func (r Repo) UpsertTopicTx(ctx context.Context, tx *sqlx.Tx, t domain.Topic) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO topics(code,name) VALUES (?,?) ON CONFLICT(code) DO UPDATE SET name=excluded.name`, t.Code, t.Name)
	return err
}

func (r Repo) ListTopics(ctx context.Context) ([]domain.Topic, error) {
	var res []domain.Topic
	err := r.DB.SelectContext(ctx, &res, `SELECT code,name FROM topics ORDER BY code`)
	return res, err
}
