package ai

import (
	"fmt"
	"os"
	"strings"

	apperrors "github.com/facturaIA/invoice-scanner/internal/errors"
	"github.com/facturaIA/invoice-scanner/internal/models"
	"github.com/facturaIA/invoice-scanner/internal/suppliers"
)

// LoadPrompt returns the contents of path, or the built-in prompt for reg
// when path is empty.
func LoadPrompt(path string, reg *suppliers.Registry) (string, error) {
	if path == "" {
		return BuildPrompt(reg), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrConfigInvalid.Code, apperrors.KindConfig, "failed to read prompt file")
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", apperrors.New(apperrors.ErrConfigInvalid.Code, apperrors.KindConfig, "prompt file is empty")
	}
	return prompt, nil
}

// BuildPrompt renders the extraction prompt from the supplier registry.
func BuildPrompt(reg *suppliers.Registry) string {
	var categories strings.Builder
	for _, c := range reg.Categories {
		fmt.Fprintf(&categories, "#### %s\n", c.DisplayName)
		if len(c.Suppliers) > 0 {
			fmt.Fprintf(&categories, "שמות: %s\n", strings.Join(c.Suppliers, ", "))
		}
		if len(c.Keywords) > 0 {
			fmt.Fprintf(&categories, "מילות זיהוי: %s\n", strings.Join(c.Keywords, ", "))
		}
		fmt.Fprintf(&categories, "→ supplier_category: %q, supplier_name: [השם המדויק]\n\n", c.Key)
	}

	return fmt.Sprintf(`אתה מומחה לניתוח חשבוניות ותעודות משלוח בעברית. חלץ מידע מדויק וסווג את הספק לפי הסדר הבא.

### שלב 1: ספקים בעדיפות גבוהה
"%s"
- אם השם או הלוגו תואמים לספק מהרשימה → supplier_category: %q, supplier_name: [השם מהרשימה]
- ספקים אלו אינם שייכים לאף קטגוריה אחרת

### שלב 2: קטגוריות (רק אם לא נמצא ספק בעדיפות גבוהה)
%s### שלב 3: שונות
→ supplier_category: %q, supplier_name: [השם שזיהית]

## מספר מסמך
- יכול להיות ארוך (10-15 ספרות), לרוב ליד הברקוד. אל תקצר אותו.

## תאריך
- תאריך המסמך עצמו בפורמט DD/MM/YYYY, לא תאריך תשלום או תוקף.

## כרטיס אשראי
- 4 ספרות אחרונות בלבד, או null אם לא מופיע.

## פריטים
- לכל שורה: שם, כמות, יחידה, מחיר ליחידה ללא מע"מ, סה"כ ללא מע"מ. עד %d שורות.

## פורמט התשובה - JSON בלבד:
{
  "supplier_category": "%s",
  "supplier_name": "שם הספק",
  "supplier_confidence": 95,
  "document_number": "0123456789012",
  "document_number_confidence": 98,
  "document_type": "invoice|delivery_note|credit_invoice",
  "document_date": "12/12/2024",
  "date_confidence": 95,
  "total_amount": "234.50",
  "total_confidence": 98,
  "credit_card_last4": "1234",
  "credit_card_confidence": 90,
  "notes": "",
  "line_items": [{"name": "...", "quantity": 1, "unit": "יח'", "unit_price_ex_vat": "10.00", "total_ex_vat": "10.00"}]
}

## כללים
1. אסור להמציא מידע. אם שדה לא ברור, תן confidence נמוך.
2. בדוק ספקים בעדיפות גבוהה לפני כל קטגוריה אחרת.
3. confidence של 90 ומעלה רק למידע ברור וחד משמעי.

נתח את המסמך והשב JSON בלבד:`,
		strings.Join(reg.PriorityNames(), `", "`),
		models.CategoryPriority,
		categories.String(),
		models.CategoryOther,
		models.MaxLineItems,
		categoryChoices(reg),
	)
}

func categoryChoices(reg *suppliers.Registry) string {
	keys := []string{string(models.CategoryPriority)}
	for _, c := range reg.Categories {
		keys = append(keys, string(c.Key))
	}
	keys = append(keys, string(models.CategoryOther))
	return strings.Join(keys, "|")
}
