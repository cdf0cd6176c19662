package history

// Status labels produced by the classifier.
const (
	StatusHealthy  = "Здоровое растение"
	StatusStressed = "Растение в состоянии стресса"
	StatusMold     = "Признаки плесени"
	StatusDry      = "Недостаток влаги (пересушено)"
)

var adviceTexts = map[string]string{
	StatusHealthy:  "Растение находится в оптимальном физиологическом состоянии. Продолжайте стандартный уход: умеренный полив (pH воды ~5.0–5.5), внесение комплексного удобрения с преобладанием фосфора и калия (NPK 10-20-20) каждые 2 недели, поддержание хорошей аэрации почвы и регулярное мульчирование хвойной щепой для поддержания кислой среды.",
	StatusStressed: "Стресс может быть вызван резкими колебаниями температуры, пересадкой, световым шоком или засолением. Внесите антистрессант с аминокислотами и морскими водорослями (например, экстракт Ascophyllum nodosum), ограничьте воздействие прямого солнца (затенение 40–50%), обеспечьте мягкий полив с добавлением хелатов магния и цинка.",
	StatusMold:     "Плесень чаще всего указывает на переувлажнение и плохую вентиляцию. Удалите поражённые участки, обработайте 0.1% раствором меди (медный купорос или хлорокись меди), затем примените биофунгицид на основе Trichoderma harzianum. Улучшите дренаж, уменьшите полив, и избегайте намокания листьев при орошении.",
	StatusDry:      "Недостаток влаги приводит к понижению тургора и нарушению транспирации. Проведите капельный полив с добавлением гуминовых кислот (0.01–0.02%) и калия в форме сульфата калия (K₂SO₄). Избегайте шокового переувлажнения. Поверхностно мульчируйте хвойной корой или сфагнумом для удержания влаги.",
}

const defaultAdvice = "Для данного состояния пока нет научно подтверждённых рекомендаций. Уточните параметры среды и физиологические признаки."

// AdviceText returns the care recommendation for a status label.
func AdviceText(status string) string {
	if text, ok := adviceTexts[status]; ok {
		return text
	}
	return defaultAdvice
}
