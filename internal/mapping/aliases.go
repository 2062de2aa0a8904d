package mapping

// aliases maps normalized header text (lowercased, trimmed, inner whitespace
// collapsed) to a field key. Lookups try the header as written first, then its
// diacritic-free form, so accented entries only need listing when the
// accent-free spelling would collide with another field.
var aliases = map[string]FieldKey{
	// Last name
	"nom":              LastName,
	"nom de famille":   LastName,
	"nom_famille":      LastName,
	"nom patient":      LastName,
	"nom du patient":   LastName,
	"nom de naissance": LastName,
	"nom d'usage":      LastName,
	"last name":        LastName,
	"last_name":        LastName,
	"lastname":         LastName,
	"surname":          LastName,
	"family name":      LastName,

	// First name
	"prénom":     FirstName,
	"prenom":     FirstName,
	"prénoms":    FirstName,
	"prenoms":    FirstName,
	"first name": FirstName,
	"first_name": FirstName,
	"firstname":  FirstName,
	"given name": FirstName,

	// Full name
	"nom complet":   FullName,
	"nom et prénom": FullName,
	"nom et prenom": FullName,
	"nom prénom":    FullName,
	"nom prenom":    FullName,
	"nom - prénom":  FullName,
	"nom - prenom":  FullName,
	"patient":       FullName,
	"identité":      FullName,
	"identite":      FullName,
	"full name":     FullName,
	"full_name":     FullName,
	"fullname":      FullName,
	"name":          FullName,

	// Email
	"email":          Email,
	"e-mail":         Email,
	"mail":           Email,
	"courriel":       Email,
	"adresse email":  Email,
	"adresse e-mail": Email,
	"adresse mail":   Email,
	"email address":  Email,

	// Phone
	"téléphone":           Phone,
	"telephone":           Phone,
	"tél":                 Phone,
	"tel":                 Phone,
	"tél.":                Phone,
	"tel.":                Phone,
	"portable":            Phone,
	"mobile":              Phone,
	"gsm":                 Phone,
	"numéro de téléphone": Phone,
	"numero de telephone": Phone,
	"téléphone portable":  Phone,
	"telephone portable":  Phone,
	"phone":               Phone,
	"phone number":        Phone,

	// Birth date
	"date de naissance": BirthDate,
	"date naissance":    BirthDate,
	"naissance":         BirthDate,
	"né le":             BirthDate,
	"ne le":             BirthDate,
	"né(e) le":          BirthDate,
	"ne(e) le":          BirthDate,
	"ddn":               BirthDate,
	"birth date":        BirthDate,
	"birthdate":         BirthDate,
	"birth_date":        BirthDate,
	"date of birth":     BirthDate,
	"dob":               BirthDate,

	// Gender
	"sexe":   Gender,
	"genre":  Gender,
	"gender": Gender,
	"sex":    Gender,

	// Profession
	"profession": Profession,
	"métier":     Profession,
	"metier":     Profession,
	"emploi":     Profession,
	"occupation": Profession,
	"job":        Profession,

	// History fields
	"antécédents traumatiques": TraumaHistory,
	"antecedents traumatiques": TraumaHistory,
	"atcd traumatiques":        TraumaHistory,
	"traumatismes":             TraumaHistory,
	"trauma":                   TraumaHistory,
	"trauma history":           TraumaHistory,
	"antécédents médicaux":     MedicalHistory,
	"antecedents medicaux":     MedicalHistory,
	"antécédents":              MedicalHistory,
	"antecedents":              MedicalHistory,
	"atcd médicaux":            MedicalHistory,
	"atcd medicaux":            MedicalHistory,
	"atcd":                     MedicalHistory,
	"medical history":          MedicalHistory,
	"antécédents chirurgicaux": SurgicalHistory,
	"antecedents chirurgicaux": SurgicalHistory,
	"atcd chirurgicaux":        SurgicalHistory,
	"chirurgies":               SurgicalHistory,
	"surgical history":         SurgicalHistory,
	"antécédents familiaux":    FamilyHistory,
	"antecedents familiaux":    FamilyHistory,
	"atcd familiaux":           FamilyHistory,
	"family history":           FamilyHistory,

	// Consultation date
	"date de consultation":    ConsultationDate,
	"date consultation":       ConsultationDate,
	"date de la consultation": ConsultationDate,
	"date du rendez-vous":     ConsultationDate,
	"date rdv":                ConsultationDate,
	"date de séance":          ConsultationDate,
	"date de seance":          ConsultationDate,
	"date":                    ConsultationDate,
	"consultation date":       ConsultationDate,
	"visit date":              ConsultationDate,

	// Reason
	"motif":                    Reason,
	"motif de consultation":    Reason,
	"motif consultation":       Reason,
	"motif de la consultation": Reason,
	"raison":                   Reason,
	"reason":                   Reason,
	"chief complaint":          Reason,

	// Anamnesis
	"anamnèse":  Anamnesis,
	"anamnese":  Anamnesis,
	"anamnesis": Anamnesis,
	"histoire":  Anamnesis,

	// Examination
	"examen":          Examination,
	"examen clinique": Examination,
	"bilan":           Examination,
	"tests":           Examination,
	"examination":     Examination,

	// Advice
	"conseils":        Advice,
	"conseil":         Advice,
	"recommandations": Advice,
	"recommandation":  Advice,
	"advice":          Advice,
}
