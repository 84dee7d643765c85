package replies

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	lang := language.MustParse("pt-BR")

	message.SetString(lang, "canvas.pixel.placed", "Pixel colocado em (%d, %d) com a cor #%s")
	message.SetString(lang, "canvas.reject.invalid_color", "Formato de cor inválido: %s. Use hexadecimal de 6 dígitos (ex.: FF0000)")
	message.SetString(lang, "canvas.reject.no_active_session", "Nenhuma sessão ativa")
	message.SetString(lang, "canvas.reject.session_inactive", "A sessão está %s")
	message.SetString(lang, "canvas.reject.out_of_bounds", "Coordenadas fora dos limites (0-%d, 0-%d)")
	message.SetString(lang, "canvas.reject.coordinate_too_large", "Coordenadas grandes demais")
	message.SetString(lang, "canvas.reject.rate_limited", "Limite de envios excedido (%d/%d por minuto)")
	message.SetString(lang, "canvas.reject.no_session", "Não há sessão para %s.")
	message.SetString(lang, "canvas.reject.invalid_transition", "Não é possível %s uma sessão que está %s.")
	message.SetString(lang, "canvas.reject.invalid_payload", "Pedido inválido: %s")
	message.SetString(lang, "canvas.session.started", "Sessão iniciada em uma tela de %dx%d.")
	message.SetString(lang, "canvas.session.paused", "Sessão pausada.")
	message.SetString(lang, "canvas.session.resumed", "Sessão retomada.")
	message.SetString(lang, "canvas.session.reset", "Tela limpa: %d pixels removidos em %d lotes.")
	message.SetString(lang, "canvas.session.ended", "Sessão encerrada e arquivada como %s.")
	message.SetString(lang, "canvas.session.ended_none", "Não há sessão para encerrar.")
	message.SetString(lang, "canvas.session.status", "A sessão está %s em uma tela de %dx%d com %d pixels.")
	message.SetString(lang, "canvas.session.status_none", "Nenhuma sessão foi iniciada.")
	message.SetString(lang, "canvas.snapshot.generated", "Snapshot gerado em %.1fs: %d blocos (%d pixels)\nManifesto: %s")
	message.SetString(lang, "canvas.snapshot.announce_title", "Snapshot da tela")
	message.SetString(lang, "canvas.snapshot.announce_body", "**Tela:** %dx%d pixels\n**Pixels desenhados:** %d\n**Blocos:** %d (esparsos)\n\n[Ver miniatura](%s)")
	message.SetString(lang, "canvas.snapshot.announce_footer", "Tamanho do bloco: %dpx | Divisão esparsa")
	message.SetString(lang, "canvas.ingest.forbidden_session", "Você não tem permissão para gerenciar sessões.")
	message.SetString(lang, "canvas.ingest.forbidden_snapshot", "Você não tem permissão para criar snapshots.")
}
