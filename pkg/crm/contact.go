package crm

// CreatedBySourceEmail tags every migrated person with the same creation source.
const CreatedBySourceEmail = "EMAIL"

// Owner is the record owner reference embedded in source records.
type Owner struct {
	Name  string `json:"name"`
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SourceContact is a contact as returned by the source CRM.
type SourceContact struct {
	ID             string `json:"id"`
	FirstName      string `json:"First_Name"`
	LastName       string `json:"Last_Name"`
	Email          string `json:"Email"`
	Phone          string `json:"Phone"`
	Mobile         string `json:"Mobile"`
	Title          string `json:"Title"`
	Owner          Owner  `json:"Owner"`
	MailingStreet  string `json:"Mailing_Street"`
	MailingCity    string `json:"Mailing_City"`
	MailingState   string `json:"Mailing_State"`
	MailingZip     string `json:"Mailing_Zip"`
	MailingCountry string `json:"Mailing_Country"`
	RecordImage    string `json:"Record_Image"`
}

// FullName is the destination's structured name.
type FullName struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Emails is the destination's structured email field.
type Emails struct {
	PrimaryEmail     string   `json:"primaryEmail"`
	AdditionalEmails []string `json:"additionalEmails"`
}

// Phones is the destination's structured phone field.
type Phones struct {
	PrimaryPhoneNumber string   `json:"primaryPhoneNumber"`
	AdditionalPhones   []string `json:"additionalPhones"`
}

// Actor records who or what created a destination record.
type Actor struct {
	Source string `json:"source"`
}

// Person is a contact in the destination CRM's bulk-create shape.
type Person struct {
	Name      FullName `json:"name"`
	Emails    Emails   `json:"emails"`
	Phones    Phones   `json:"phones"`
	JobTitle  string   `json:"jobTitle"`
	City      string   `json:"city"`
	CreatedBy Actor    `json:"createdBy"`
	Position  int      `json:"position"`
}

// MapContact converts a source contact into a destination person.
// The mobile number always becomes the single additional phone, even when empty.
func MapContact(src SourceContact, position int) Person {
	return Person{
		Name: FullName{
			FirstName: src.FirstName,
			LastName:  src.LastName,
		},
		Emails: Emails{
			PrimaryEmail:     src.Email,
			AdditionalEmails: []string{},
		},
		Phones: Phones{
			PrimaryPhoneNumber: src.Phone,
			AdditionalPhones:   []string{src.Mobile},
		},
		JobTitle:  src.Title,
		City:      src.MailingCity,
		CreatedBy: Actor{Source: CreatedBySourceEmail},
		Position:  position,
	}
}
